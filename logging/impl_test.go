package logging

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

func TestObservedSublogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	sub := logger.Sublogger("calibration")
	sub.Infow("loaded camera intrinsics", "camera", 3)
	logger.Debug("root message")

	test.That(t, logs.Len(), test.ShouldEqual, 2)
	entries := logs.FilterMessage("loaded camera intrinsics").All()
	test.That(t, entries, test.ShouldHaveLength, 1)
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "calibration")
	test.That(t, entries[0].ContextMap()["camera"], test.ShouldEqual, int64(3))
}

func TestSetLevelIsShared(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	sub := logger.Sublogger("assembler")

	logger.SetLevel(zapcore.WarnLevel)
	test.That(t, sub.GetLevel(), test.ShouldEqual, zapcore.WarnLevel)
	sub.Info("dropped")
	sub.Warn("kept")
	test.That(t, logs.Len(), test.ShouldEqual, 1)
	test.That(t, logs.All()[0].Message, test.ShouldEqual, "kept")
}

func TestFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posegt.log")
	logger, closeFile := NewFileLogger("posegt", path, false)
	logger.Infow("run finished", "emitted", 10)
	logger.Debug("not written")
	test.That(t, closeFile(), test.ShouldBeNil)

	contents, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(contents), test.ShouldContainSubstring, "run finished")
	test.That(t, string(contents), test.ShouldContainSubstring, `"emitted":10`)
	test.That(t, string(contents), test.ShouldNotContainSubstring, "not written")
}

func TestGlobal(t *testing.T) {
	prev := Global()
	defer ReplaceGlobal(prev)

	logger := NewBlankLogger("blank")
	ReplaceGlobal(logger)
	test.That(t, Global(), test.ShouldEqual, logger)
}
