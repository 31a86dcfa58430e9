package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// PatchablePage is a page carrying every landmark the built-in rules use
const PatchablePage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>%s</title>
  <link rel="stylesheet" href="https://cdnjs.cloudflare.com/ajax/libs/font-awesome/6.4.0/css/all.min.css">
  <link href="../assets/css/output.css" rel="stylesheet">
</head>
<body>
  <h1>%s</h1>
  <script src="../assets/js/main-minimal.js"></script>
</body>
</html>
`

// PlainPage has none of the landmarks
const PlainPage = `<!DOCTYPE html>
<html lang="en">
<head><title>Plain</title></head>
<body><p>Nothing to patch here.</p></body>
</html>
`

// WriteSite creates a small static site in a temp directory and returns its
// root. It holds two patchable pages, one plain page, and an index.html that
// lies outside the default directories.
func WriteSite(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	files := map[string]string{
		"index.html":         page("Home"),
		"page/services.html": page("Services"),
		"page/plain.html":    PlainPage,
		"blog/launch.html":   page("Launch"),
	}
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func page(title string) string {
	return fmt.Sprintf(PatchablePage, title, title)
}
