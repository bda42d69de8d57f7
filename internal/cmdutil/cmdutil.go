// Package cmdutil provides small command-line conveniences shared by the
// acmeclient binaries: fatal-on-error logging and graceful signal handling.
package cmdutil

import (
	"log"
	"os"
	"os/signal"
	"syscall"
)

// FailOnError logs msg and err and exits the process if err is non-nil.
func FailOnError(err error, msg string) {
	if err == nil {
		return
	}
	log.Fatalf("[!] %s - %s", msg, err)
}

var signalToName = map[os.Signal]string{
	syscall.SIGTERM: "SIGTERM",
	syscall.SIGINT:  "SIGINT",
	syscall.SIGHUP:  "SIGHUP",
}

// CatchSignals blocks until SIGTERM, SIGINT, or SIGHUP is received, runs
// callback (if non-nil), and exits the process.
func CatchSignals(callback func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	sig := <-sigChan
	log.Printf("caught %s", signalToName[sig])

	if callback != nil {
		callback()
	}

	log.Printf("exiting")
	os.Exit(0)
}
