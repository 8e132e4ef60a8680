package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/kababayanbot/kababayan/internal/bot"
	"github.com/kababayanbot/kababayan/internal/config"
	"github.com/kababayanbot/kababayan/internal/db/sqlite"
	"github.com/kababayanbot/kababayan/internal/event"
	"github.com/kababayanbot/kababayan/internal/handlers"
	"github.com/kababayanbot/kababayan/internal/infra"
	"github.com/kababayanbot/kababayan/internal/invite"
	"github.com/kababayanbot/kababayan/internal/lifecycle"
	"github.com/kababayanbot/kababayan/internal/observability"
	"github.com/kababayanbot/kababayan/internal/phone"
	"github.com/kababayanbot/kababayan/internal/rates"
	"github.com/kababayanbot/kababayan/internal/registry"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := config.Get()
	log.SetFormatter(&config.KbFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.Level(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := observability.Init(ctx, cfg.MetricsAddr); err != nil {
		log.WithError(err).Errorln("cant initialize observability")
	}

	botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
	if err != nil {
		log.WithError(err).Errorln("cant initialize bot api")
		time.Sleep(1 * time.Second)
		log.Fatalln("exiting")
	}
	if log.Level(cfg.LogLevel) == log.TraceLevel {
		botAPI.Debug = true
	}

	dbClient, err := sqlite.NewSQLiteClient(ctx, infra.GetWorkDir(), "kababayan.db")
	if err != nil {
		log.WithError(err).Fatalln("cant initialize storage")
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.WithError(err).Errorln("cant close storage")
		}
	}()

	users := registry.NewUserRegistry(dbClient)
	chats := registry.NewChatRegistry(dbClient)
	limiter := rates.NewLimiter(rates.DefaultPolicy())
	classifier := phone.NewClassifier(cfg.Region.TargetRegion, cfg.Region.CallingCode)
	issuer := invite.NewIssuer(invite.NewTelegramLinkCreator(botAPI), cfg.Invites.LinkTTL)
	queue := event.NewQueue(bot.NewNotifier(botAPI), cfg.AdminID)

	runtime := lifecycle.NewRuntime(users, queue)
	if err := runtime.Start(ctx); err != nil {
		log.WithError(err).Fatalln("cant start runtime")
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		if err := runtime.Stop(stopCtx); err != nil {
			log.WithError(err).Errorln("unclean shutdown")
		}
	}()

	transport := handlers.NewTelegramTransport(botAPI)
	selfID := botAPI.Self.ID

	bot.RegisterUpdateHandler("admission", handlers.NewAdmission(
		transport, users, dbClient, limiter, classifier, queue, selfID, cfg))
	bot.RegisterUpdateHandler("verification", handlers.NewVerification(
		users, chats, issuer, dbClient, limiter, classifier, queue, cfg))
	bot.RegisterUpdateHandler("commands", handlers.NewCommands(
		users, chats, dbClient, transport, queue, transport, selfID, cfg))
	bot.RegisterUpdateHandler("membership", handlers.NewMembership(
		chats, queue, cfg.AdminID))

	updateProcessor := bot.NewUpdateProcessor([]string{
		"admission", "verification", "commands", "membership",
	})

	updateConfig := api.NewUpdate(0)
	updateConfig.Timeout = 60
	updateConfig.AllowedUpdates = []string{"message", "chat_join_request", "my_chat_member"}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case s := <-sig:
			log.WithField("signal", s.String()).Infoln("shutting down")
			cancel()
		case <-infra.MonitorExecutable(ctx):
			log.Errorln("executable file was modified, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	infra.GoRecoverable(-1, "process_updates", func() {
		updateChan, errorChan := bot.GetUpdatesChans(ctx, botAPI, updateConfig)
		for {
			select {
			case err := <-errorChan:
				if ctx.Err() != nil {
					return
				}
				log.WithError(err).Errorln("bot api get updates error")
				time.Sleep(1 * time.Second)
				updateChan, errorChan = bot.GetUpdatesChans(ctx, botAPI, updateConfig)
			case update, ok := <-updateChan:
				if !ok {
					return
				}
				if err := updateProcessor.Process(ctx, &update); err != nil {
					log.WithError(err).Errorln("cant process update")
				}
			case <-ctx.Done():
				return
			}
		}
	})

	<-ctx.Done()
	log.Infoln("no more updates")
}
