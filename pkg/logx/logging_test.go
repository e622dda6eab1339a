package logx

import "testing"

// Not parallel: SetLevel mutates the process-wide filter.
func TestSetLevelChangesVerbosityLive(t *testing.T) {
	t.Cleanup(func() { SetLevel("trace") })

	log, err := New(Config{Level: "info", Console: true})
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	if log.Enabled(LevelDebug) {
		t.Fatal("debug must be filtered at info")
	}
	SetLevel("debug")
	if !log.Enabled(LevelDebug) {
		t.Fatal("debug must pass after SetLevel")
	}
	SetLevel("error")
	if log.Enabled(LevelWarn) {
		t.Fatal("warn must be filtered at error")
	}
}
