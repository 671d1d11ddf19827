package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ranges(t *testing.T, buf string) ([]string, SplitResult) {
	t.Helper()
	res, err := Split([]byte(buf))
	require.NoError(t, err)
	var out []string
	for _, r := range res.Ranges {
		out = append(out, buf[r.Begin:r.End])
	}
	return out, res
}

func TestSplitSimpleMessage(t *testing.T) {
	out, res := ranges(t, ":1234\r\n")
	assert.True(t, res.Complete)
	assert.Equal(t, []string{":1234\r\n"}, out)

	out, res = ranges(t, ":-5678\r\n+PONG\r\n$14\r\nEl Psy Congroo\r\n-ERR ASK\r\n")
	assert.True(t, res.Complete)
	assert.Equal(t, []string{
		":-5678\r\n",
		"+PONG\r\n",
		"$14\r\nEl Psy Congroo\r\n",
		"-ERR ASK\r\n",
	}, out)
}

func TestSplitMessageWithArray(t *testing.T) {
	out, res := ranges(t, "*2\r\n$3\r\nfoo\r\n$3\r\nbar\r\n*3\r\n:7\r\n:8\r\n:9\r\n")
	assert.True(t, res.Complete)
	assert.Equal(t, []string{
		"*2\r\n$3\r\nfoo\r\n$3\r\nbar\r\n",
		"*3\r\n:7\r\n:8\r\n:9\r\n",
	}, out)

	nested := "*2\r\n*3\r\n:1\r\n:2\r\n:3\r\n*2\r\n+Foo\r\n-Bar\r\n"
	out, res = ranges(t, nested+"$-1\r\n*-1\r\n")
	assert.True(t, res.Complete)
	assert.Equal(t, []string{nested, "$-1\r\n", "*-1\r\n"}, out)
	assert.Len(t, nested, 36)
}

func TestSplitInterruptedMessage(t *testing.T) {
	out, res := ranges(t, "+OK\r")
	assert.False(t, res.Complete)
	assert.Empty(t, out)
	assert.Equal(t, 0, res.Interrupt)

	out, res = ranges(t, "+PONG\r\n:")
	assert.False(t, res.Complete)
	assert.Equal(t, []string{"+PONG\r\n"}, out)
	assert.Equal(t, 7, res.Interrupt)

	out, res = ranges(t, "+PONG\r\n*2\r\n$3\r\nfoo\r\n")
	assert.False(t, res.Complete)
	assert.Equal(t, []string{"+PONG\r\n"}, out)
	assert.Equal(t, 7, res.Interrupt)

	out, res = ranges(t, ":123\r\n:-")
	assert.False(t, res.Complete)
	assert.Equal(t, []string{":123\r\n"}, out)
	assert.Equal(t, 6, res.Interrupt)

	// a bulk string missing only its trailing CRLF
	out, res = ranges(t, "*2\r\n$3\r\nGET\r\n$1\r\nx")
	assert.False(t, res.Complete)
	assert.Empty(t, out)
	assert.Equal(t, 0, res.Interrupt)
}

func TestSplitConcatenationInvariant(t *testing.T) {
	streams := []string{
		"",
		"+OK\r\n",
		"+OK\r\n:12",
		"*2\r\n$3\r\nGET\r\n$1\r\nx\r\n*2\r\n$3\r\nGET\r\n$1\r\ny\r\n",
		"$5\r\nhello\r\n$2\r\nab",
	}
	for _, s := range streams {
		res, err := Split([]byte(s))
		require.NoError(t, err, s)
		var joined string
		for _, r := range res.Ranges {
			joined += s[r.Begin:r.End]
		}
		assert.Equal(t, s[:res.Interrupt], joined, s)
	}
}

func TestSplitBadFrame(t *testing.T) {
	for _, s := range []string{
		"hello\r\n",
		"$3x\r\n",
		"*a\r\n",
		"$3\r\nfooX\r\n",
		"+OK\rX",
	} {
		_, err := Split([]byte(s))
		assert.ErrorIs(t, err, ErrBadFrame, s)
	}
}
