package script

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leodido/kspoof/internal/settings"
)

func generator() *Generator {
	return New(Config{
		Binary: "/data/adb/ksu/bin/ksu_susfs_v1.5.5",
		LogDir: "/data/adb/kspoof/logs",
	})
}

func sample() settings.Settings {
	s := settings.Defaults()
	s.LogEnabled = true
	s.SdcardPath = "/storage/emulated/0"
	s.SpoofRelease = "4.19.157-perf+"
	s.Add(settings.SusPaths, "/system/addon.d")
	s.Add(settings.SusPaths, "/data/adb/ksu")
	s.Add(settings.SusMaps, "/data/adb/modules/zygisk/lib.so")
	s.Add(settings.SusMounts, "/system/etc/hosts")
	s.Add(settings.TryUmounts, "/system/etc/hosts|1")
	s.Add(settings.TryUmounts, "/debug_ramdisk|0")
	return s
}

func TestRender_Golden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	gen := generator()
	for _, stage := range Stages() {
		t.Run(string(stage), func(t *testing.T) {
			text, err := gen.Render(stage, sample())
			require.NoError(t, err)
			g.Assert(t, string(stage), []byte(text))
		})
	}
}

func TestRender_Deterministic(t *testing.T) {
	gen := generator()
	first, err := gen.RenderAll(sample())
	require.NoError(t, err)
	second, err := gen.RenderAll(sample())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRender_InsertionOrderIrrelevant(t *testing.T) {
	a := settings.Defaults()
	a.Add(settings.SusPaths, "/b")
	a.Add(settings.SusPaths, "/a")
	b := settings.Defaults()
	b.Add(settings.SusPaths, "/a")
	b.Add(settings.SusPaths, "/b")

	gen := generator()
	ta, err := gen.Render(Service, a)
	require.NoError(t, err)
	tb, err := gen.Render(Service, b)
	require.NoError(t, err)
	assert.Equal(t, ta, tb)
}

func TestRender_ChangingOnePathTouchesOnlyItsLines(t *testing.T) {
	gen := generator()
	before := sample()
	after := sample()
	after.Remove(settings.SusPaths, "/system/addon.d")
	after.Add(settings.SusPaths, "/system/bin/su")

	b, err := gen.RenderAll(before)
	require.NoError(t, err)
	a, err := gen.RenderAll(after)
	require.NoError(t, err)

	for _, stage := range []Stage{PostFsData, PostMount, BootCompleted} {
		assert.Equal(t, b[stage], a[stage], "stage %s must not change", stage)
	}

	bl := strings.Split(b[Service], "\n")
	al := strings.Split(a[Service], "\n")
	require.Len(t, al, len(bl))
	for i := range bl {
		if bl[i] == al[i] {
			continue
		}
		assert.Contains(t, bl[i], "add_sus_path '/system/addon.d'")
		assert.Contains(t, al[i], "add_sus_path '/system/bin/su'")
	}
}

func TestRender_ServiceConditionalLines(t *testing.T) {
	gen := generator()

	text, err := gen.Render(Service, settings.Defaults())
	require.NoError(t, err)
	assert.Contains(t, text, `"$BIN" enable_log '0'`)
	assert.NotContains(t, text, "set_uname")
	assert.NotContains(t, text, "set_android_data_root_path")
	assert.NotContains(t, text, "set_sdcard_root_path")
	assert.Contains(t, text, "resetprop -n ro.boot.verifiedbootstate green")

	s := settings.Defaults()
	s.SpoofBuildTime = "Mon Jan 1 00:00:00 UTC 2024"
	s.AndroidDataPath = "/sdcard/Android/data"
	text, err = gen.Render(Service, s)
	require.NoError(t, err)
	assert.Contains(t, text, `set_uname 'default' 'Mon Jan 1 00:00:00 UTC 2024'`)
	assert.Contains(t, text, `set_android_data_root_path '/sdcard/Android/data'`)
}

func TestRender_SupplementedServiceEntries(t *testing.T) {
	s := settings.Defaults()
	s.Add(settings.SusLoopPaths, "/sdcard/TWRP")
	s.Add(settings.KstatPaths, "/system/framework/services.jar")
	s.Add(settings.KstatStatic, "/system/bin/sh|1|2|default|default|default|default|default|default|default|default|default|default")

	text, err := generator().Render(Service, s)
	require.NoError(t, err)
	assert.Contains(t, text, `add_sus_path_loop '/sdcard/TWRP'`)
	assert.Contains(t, text, `add_sus_kstat_statically '/system/bin/sh' '1' '2' 'default'`)
	assert.Less(t,
		strings.Index(text, `add_sus_kstat '/system/framework/services.jar'`),
		strings.Index(text, `update_sus_kstat '/system/framework/services.jar'`))
}

func TestRender_ExecuteInPostFsDataMovesUname(t *testing.T) {
	s := settings.Defaults()
	s.SpoofRelease = "5.10.0"
	s.ExecuteInPostFsData = true

	all, err := generator().RenderAll(s)
	require.NoError(t, err)
	assert.NotContains(t, all[Service], "set_uname")
	assert.Contains(t, all[PostFsData], `set_uname '5.10.0' 'default'`)
	assert.Contains(t, all[PostFsData], `if [ ! -x "$BIN" ]`)
}

func TestRender_QuotesHostileValues(t *testing.T) {
	s := settings.Defaults()
	s.Add(settings.SusPaths, "/data/it's $(reboot)")

	text, err := generator().Render(Service, s)
	require.NoError(t, err)
	assert.Contains(t, text, `add_sus_path '/data/it'"'"'s $(reboot)'`)
}

func TestRender_BadEntries(t *testing.T) {
	s := settings.Defaults()
	s.TryUmounts = []string{"/x|9"}
	_, err := generator().Render(PostMount, s)
	assert.Error(t, err)

	_, err = generator().Render(Stage("late"), settings.Defaults())
	assert.Error(t, err)
}

func TestParseStage(t *testing.T) {
	for _, s := range Stages() {
		got, err := ParseStage(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStage("late_start")
	assert.Error(t, err)
	assert.Equal(t, "post-fs-data.sh", PostFsData.FileName())
}
