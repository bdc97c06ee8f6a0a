package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/code-payments/code-test-client/pkg/app"
	"github.com/code-payments/code-test-client/pkg/testclient"
)

func main() {
	if err := app.Run(testclient.New()); err != nil {
		logrus.WithError(err).Error("error running test client")
		os.Exit(1)
	}
}
