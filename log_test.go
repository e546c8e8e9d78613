package flow_test

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"testing"

	"github.com/casualjim/flow"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextLogger(t *testing.T) {
	log := flow.GoLog(nil, "", 0)
	ctx := flow.SetLogger(context.Background(), log)

	require.Equal(t, log, flow.ContextLogger(ctx))

	var buf bytes.Buffer
	log = flow.GoLog(&buf, "", 0)

	log.Debugf("level")
	log.Infof("level")
	log.Warnf("level")
	log.Errorf("level")

	str := buf.String()
	assert.Contains(t, str, "[DEBUG] level")
	assert.Contains(t, str, "[INFO]  level")
	assert.Contains(t, str, "[WARN]  level")
	assert.Contains(t, str, "[ERROR] level")

	log = flow.ContextLogger(context.Background())
	assert.Equal(t, flow.NopLogger, log)
	log.Debugf("level")
	log.Infof("level")
	log.Warnf("level")
	log.Errorf("level")
}

func TestLogrusLogger(t *testing.T) {
	var buf bytes.Buffer
	lr := logrus.New()
	lr.Out = &buf
	lr.Level = logrus.DebugLevel
	lr.Formatter = &logrus.TextFormatter{DisableTimestamp: true, DisableColors: true}

	log := flow.Logrus(lr.WithField("flow", "testing"))
	log.Debugf("step %d of %d", 1, 2)
	log.Warnf("dropped")

	str := buf.String()
	assert.Contains(t, str, `level=debug msg="step 1 of 2" flow=testing`)
	assert.Contains(t, str, `level=warning msg=dropped flow=testing`)

	assert.Equal(t, logrus.StandardLogger(), flow.Logrus(nil))
}

func TestNopLoggerFatal(t *testing.T) {

	if os.Getenv("LOG_FATAL_TEST") == "1" {
		flow.NopLogger.Fatalf("level")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestNopLoggerFatal$")
	cmd.Env = append(os.Environ(), "LOG_FATAL_TEST=1")
	err := cmd.Run()
	require.IsType(t, &exec.ExitError{}, err)
	require.False(t, err.(*exec.ExitError).Success())
}
