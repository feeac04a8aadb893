package driver

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/avcopies/ssidb/internal/topology"
)

func TestRunStdinProducesExactTranscript(t *testing.T) {
	script := strings.Join([]string{
		"begin(T1)",
		"R(T1,x2)",
		"W(T1,x2,55)",
		"end(T1)",
	}, "\n")

	var out bytes.Buffer
	d := New(topology.Default(), &out, zerolog.Nop())
	err := d.RunStdin(strings.NewReader(script))

	assert.NoError(t, err)
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	assert.Equal(t, []string{
		"T1 begins",
		"x2: 20",
		"T1 writes x2=55 to sites: 1, 2, 3, 4, 5, 6, 7, 8, 9, 10",
		"T1 commits",
	}, lines)
}

func TestBlankAndCommentLinesProduceNoOutput(t *testing.T) {
	script := strings.Join([]string{
		"",
		"// just a note",
		"begin(T1)",
		"end(T1)",
	}, "\n")

	var out bytes.Buffer
	d := New(topology.Default(), &out, zerolog.Nop())
	require := assert.New(t)
	require.NoError(d.RunStdin(strings.NewReader(script)))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Equal([]string{"T1 begins", "T1 commits"}, lines)
}
