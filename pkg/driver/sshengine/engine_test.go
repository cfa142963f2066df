package sshengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteArgEscapesSingleQuotes(t *testing.T) {
	assert.Equal(t, `'it'"'"'s'`, quoteArg("it's"))
}

func TestShellJoinQuotesEveryArgument(t *testing.T) {
	got := shellJoin("/bin/run", []string{"--flag", "a b"})
	assert.Equal(t, `'/bin/run' '--flag' 'a b'`, got)
}

func TestPathDir(t *testing.T) {
	assert.Equal(t, "/tmp/out", pathDir("/tmp/out/file.txt"))
	assert.Equal(t, ".", pathDir("file.txt"))
}
