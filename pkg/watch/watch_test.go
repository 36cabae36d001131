package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIgnored(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, []string{"v", "dist", ".pybuild", "VERSION.txt", "."})
	require.NoError(t, err)
	defer w.Close()

	ignored := []string{
		"v/bin/python",
		"dist/demo-1.0.tar.gz",
		"VERSION.txt",
		".git/index",
		"src/demo/__pycache__/mod.cpython-39.pyc",
		"src/demo.egg-info/SOURCES.txt",
		"tests/.pytest_cache/v/cache",
		"build/lib/demo.py",
		filepath.Join(filepath.Dir(root), "elsewhere.py"),
	}
	for _, name := range ignored {
		assert.True(t, w.Ignored(name), name)
	}

	watched := []string{
		"setup.py",
		"requirements.txt",
		"src/demo/mod.py",
		"tests/test_mod.py",
		"venv.py",
		filepath.Join(root, "src", "demo", "other.py"),
	}
	for _, name := range watched {
		assert.False(t, w.Ignored(name), name)
	}
}

func TestSettled(t *testing.T) {
	w := &Watcher{pending: map[string]time.Time{}, Debounce: time.Second}
	now := time.Now()

	assert.Nil(t, w.settled(now))

	w.pending["a.py"] = now.Add(-2 * time.Second)
	w.pending["b.py"] = now.Add(-100 * time.Millisecond)
	assert.Nil(t, w.settled(now))

	assert.Equal(t, []string{"a.py", "b.py"}, w.settled(now.Add(time.Second)))
	assert.Empty(t, w.pending)
}

func TestRunReportsChanges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "v"), 0o755))

	w, err := New(root, []string{"v"})
	require.NoError(t, err)
	defer w.Close()
	w.Debounce = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	batches := make(chan []string, 10)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(ctx context.Context, changed []string) {
			batches <- changed
		})
	}()

	require.NoError(t, os.WriteFile(filepath.Join(root, "v", "ignored.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "mod.py"), []byte("x = 1\n"), 0o644))

	select {
	case changed := <-batches:
		assert.Contains(t, changed, "src/mod.py")
		assert.NotContains(t, changed, "v/ignored.txt")
	case <-ctx.Done():
		t.Fatal("no change reported")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
