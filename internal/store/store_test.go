package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leodido/kspoof/internal/fault"
	"github.com/leodido/kspoof/internal/settings"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestLoad_DefaultsOnFirstRead(t *testing.T) {
	s, _ := openTemp(t)

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, settings.Defaults().Equal(got))
}

func TestUpdate_PersistsAcrossReopen(t *testing.T) {
	s, path := openTemp(t)
	ctx := context.Background()

	_, err := s.Update(ctx, func(cur *settings.Settings) error {
		cur.SpoofRelease = "4.19.157-perf+"
		cur.LogEnabled = true
		cur.AutoStart = true
		cur.Add(settings.SusPaths, "/data/adb/ksu")
		cur.Add(settings.TryUmounts, "/system/etc/hosts|1")
		cur.Add(settings.KstatStatic, settings.NewStatOverride("/system/bin/sh").String())
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "4.19.157-perf+", got.SpoofRelease)
	assert.Equal(t, settings.Default, got.SpoofBuildTime)
	assert.True(t, got.LogEnabled)
	assert.True(t, got.AutoStart)
	assert.Equal(t, []string{"/data/adb/ksu"}, got.SusPaths)
	assert.Equal(t, []string{"/system/etc/hosts|1"}, got.TryUmounts)
	assert.Len(t, got.KstatStatic, 1)
}

func TestUpdate_ErrorLeavesStoreUnchanged(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	before, err := s.Update(ctx, func(cur *settings.Settings) error {
		cur.Add(settings.SusPaths, "/a")
		return nil
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = s.Update(ctx, func(cur *settings.Settings) error {
		cur.Add(settings.SusPaths, "/b")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	after, err := s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, before.Equal(after))
}

func TestUpdate_RejectsInvalid(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	_, err := s.Update(ctx, func(cur *settings.Settings) error {
		cur.SusPaths = append(cur.SusPaths, "relative/path")
		return nil
	})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.ValidationFailed))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got.SusPaths)
}

func TestReplace(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	_, err := s.Update(ctx, func(cur *settings.Settings) error {
		cur.Add(settings.SusMaps, "/old")
		return nil
	})
	require.NoError(t, err)

	next := settings.Defaults()
	next.SdcardPath = "/storage/emulated/0"
	next.Add(settings.SusMounts, "/system/fonts")
	require.NoError(t, s.Replace(ctx, next))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, next.Equal(got), "got %+v", got)
}

func TestUpdate_ConcurrentWritersDoNotLoseUpdates(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Update(ctx, func(cur *settings.Settings) error {
				cur.Add(settings.SusPaths, fmt.Sprintf("/p/%02d", i))
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got.SusPaths, writers)
}
