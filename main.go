package main

import (
	"context"
	"log"

	"github.com/spf13/viper"

	"github.com/thom899g/autonomous-trading-hypothesis-generator/message"
	"github.com/thom899g/autonomous-trading-hypothesis-generator/store"
	"github.com/thom899g/autonomous-trading-hypothesis-generator/util/logger"
)

func main() {
	viper.AutomaticEnv()
	if cfgFile := viper.GetString("CONFIG_FILE"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			log.Fatalf("failed to read config file '%s', err: %v", cfgFile, err)
		}
	}

	l := logger.NewLogger(viper.GetString("ENV"), viper.GetString("LOG_PATH"))

	ctx := context.Background()
	s, err := store.Instance(ctx)
	if err != nil {
		l.Fatalf("failed to initialize store, err: %v", err)
	}
	s.SetLogger(l)
	l.Println("Firestore initialized successfully")

	data := map[string]interface{}{
		"token": viper.Get("TELEGRAM_TOKEN"),
	}
	sender, err := message.NewSender(viper.GetString("DEFAULT_SENDER_PLATFORM"), data)
	if err != nil {
		l.Fatalf("failed to initialize sender, err: %v", err)
	}

	httpHandler := newHttpHandler(l)
	httpHandler.setStore(s)
	httpHandler.setSender(sender, viper.GetInt64("TELEGRAM_CHAT_ID"))

	signalHandler := newSignalHandler(l)
	signalHandler.setCloseHttpFunc(httpHandler.shutdown)
	signalHandler.setCloseStoreFunc(func() {
		if err := s.Close(); err != nil {
			l.Printf("[ERROR] failed to close store, err: %v", err)
		}
	})

	go httpHandler.startHttpServer()
	signalHandler.capture()
}
