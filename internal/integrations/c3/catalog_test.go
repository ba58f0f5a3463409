package c3

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"ai-tutor/internal/domain"
)

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadCatalog(t *testing.T) {
	path := writeCatalog(t, `
- content_id: frac-1
  usmos: [MATH.FRAC.1, " MATH.FRAC.2 ", ""]
  problem: What is 1/2 + 1/4?
  answer: 3/4
  explanation: Rewrite 1/2 as 2/4 and add.
- content_id: chem-1
  usmos:
    - SCIENCE.CHEM.1
  problem: What is the chemical symbol for sodium?
  answer: Na
`)

	c, err := LoadCatalog(path)
	require.NoError(t, err)

	it, err := c.Fetch(context.Background(), "MATH.FRAC.2")
	require.NoError(t, err)
	require.Equal(t, "frac-1", it.ContentID)
	require.Equal(t, []string{"MATH.FRAC.1", "MATH.FRAC.2"}, it.CurriculumIDs)
	require.Equal(t, "3/4", it.Answer)

	it, err = c.Fetch(context.Background(), "SCIENCE.CHEM.1")
	require.NoError(t, err)
	require.Empty(t, it.Explanation)

	_, err = c.Fetch(context.Background(), "MATH.ALG.1")
	require.True(t, errors.Is(err, domain.ErrContentNotFound), "a loaded catalog replaces the samples")
}

func TestLoadCatalog_Invalid(t *testing.T) {
	cases := map[string]struct {
		body string
		want string
	}{
		"empty":           {"[]", "no items"},
		"not a list":      {"content_id: x", "parse catalog"},
		"missing id":      {"- usmos: [A.1]\n  problem: p", "content_id is required"},
		"missing usmos":   {"- content_id: x\n  usmos: [' ']\n  problem: p", "usmos is required"},
		"missing problem": {"- content_id: x\n  usmos: [A.1]", "problem is required"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadCatalog(writeCatalog(t, tc.body))
			require.ErrorContains(t, err, tc.want)
		})
	}

	_, err := LoadCatalog(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "read catalog")
}
