package config

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process logger from LogConfig.
func NewLogger(c LogConfig, out io.Writer) (*logrus.Logger, error) {
	if out == nil {
		out = os.Stdout
	}
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("config: log.level: %w", err)
	}

	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(level)
	if c.Format == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log, nil
}

// LogError logs err with the module/function context it came from.
func LogError(log logrus.FieldLogger, module, funcName, context string, data any, err error) {
	fields := logrus.Fields{
		"module":   module,
		"funcName": funcName,
		"context":  context,
	}
	if data != nil {
		fields["data"] = data
	}
	log.WithFields(fields).Error(err.Error())
}
