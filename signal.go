package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
)

// Gracefull shutdown
type signalHandler struct {
	closeHttp  func()
	closeStore func()
	logger     *log.Logger
	sigCh      chan os.Signal
}

func newSignalHandler(l *log.Logger) *signalHandler {
	return &signalHandler{
		sigCh:  make(chan os.Signal, 1),
		logger: l,
	}
}

func (h *signalHandler) setCloseHttpFunc(f func()) {
	h.closeHttp = f
}

func (h *signalHandler) setCloseStoreFunc(f func()) {
	h.closeStore = f
}

// Capture system signal, blocks until the shutdown sequence completes
func (h *signalHandler) capture() {
	signal.Notify(h.sigCh, syscall.SIGINT, syscall.SIGTERM) // SIGINT=2, SIGTERM=15
	<-h.sigCh
	h.shutdown()
}

func (h *signalHandler) shutdown() {
	h.logger.Printf("[pid:%d] terminating...\n", syscall.Getpid())

	// Stop taking requests before dropping the Firestore connection
	h.closeHttp()
	h.closeStore()

	h.logger.Printf("[pid:%d] terminated\n", syscall.Getpid())
}
