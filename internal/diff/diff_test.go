package diff_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/codereview/internal/diff"
)

var sampleDiff = strings.Join([]string{
	"diff --git a/auth/login.go b/auth/login.go",
	"index 1111111..2222222 100644",
	"--- a/auth/login.go",
	"+++ b/auth/login.go",
	"@@ -1,3 +1,5 @@",
	" package auth",
	" ",
	"-func Login() {}",
	"+func Login() {",
	"+\t// TODO: handle lockout",
	"+}",
	"diff --git a/README.md b/README.md",
	"new file mode 100644",
	"index 0000000..3333333",
	"--- /dev/null",
	"+++ b/README.md",
	"@@ -0,0 +1,2 @@",
	"+# Project",
	"+Docs",
	"",
}, "\n")

func TestParse(t *testing.T) {
	set, err := diff.Parse(sampleDiff)
	require.NoError(t, err)
	require.Len(t, set.Files, 2)

	files, added, deleted := set.Stats()
	assert.Equal(t, 2, files)
	assert.Equal(t, 5, added)
	assert.Equal(t, 1, deleted)

	login := set.File("auth/login.go")
	require.NotNil(t, login)
	assert.Equal(t, 3, login.AddedLines)

	lines := login.Added()
	require.Len(t, lines, 3)
	assert.Equal(t, 3, lines[0].Number)
	assert.Equal(t, "func Login() {", lines[0].Text)
	assert.Equal(t, 4, lines[1].Number)

	readme := set.File("README.md")
	require.NotNil(t, readme)
	assert.True(t, readme.IsNew)

	assert.Nil(t, set.File("missing.go"))
}

func TestParse_Empty(t *testing.T) {
	set, err := diff.Parse("  \n")
	require.NoError(t, err)
	assert.Empty(t, set.Files)
}
