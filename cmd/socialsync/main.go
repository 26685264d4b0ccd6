package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/socialsync/internal/api"
	"github.com/socialsync/internal/chat"
	"github.com/socialsync/internal/config"
	"github.com/socialsync/internal/handler"
	"github.com/socialsync/internal/logger"
	"github.com/socialsync/internal/middleware"
	"github.com/socialsync/internal/model"
	"github.com/socialsync/internal/notify"
	"github.com/socialsync/internal/push"
	"github.com/socialsync/internal/startup"
	"github.com/socialsync/internal/storage"
	"github.com/socialsync/internal/storage/memory"
	"github.com/socialsync/internal/stream"
	"github.com/socialsync/internal/ws"
)

func main() {
	logger.SetPrefix("sync")
	addr := flag.String("addr", "", "gateway listen address (overrides config)")
	noStreams := flag.Bool("no-streams", false, "do not open the message and notification streams")
	flag.Parse()

	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if cfg.Token == "" {
		logger.Error("SESSION_TOKEN is required")
		time.Sleep(100 * time.Millisecond)
		os.Exit(1)
	}
	logger.Infof("starting sync client api=%s stream=%s token=%s", cfg.Remote.APIBaseURL, cfg.Remote.StreamBaseURL, middleware.MaskToken(cfg.Token))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	apiClient := api.NewClient(api.Options{
		BaseURL:           cfg.Remote.APIBaseURL,
		Token:             cfg.Token,
		ChatListPath:      cfg.Remote.ChatListPath,
		MessagesPath:      cfg.Remote.MessagesPath,
		NotificationsPath: cfg.Remote.NotificationsPath,
		Timeout:           cfg.Remote.RequestTimeout,
	})

	chatList := bootstrapChats(ctx, apiClient, cfg.Remote.RequestTimeout)
	if cfg.UserID == 0 {
		cfg.UserID = chatList.UserInfo.ID
	}
	if cfg.UserID == 0 {
		logger.Error("USER_ID is not set and the chat list carried no user info")
		time.Sleep(100 * time.Millisecond)
		os.Exit(1)
	}

	store := openDecisionStore(ctx, cfg)
	defer store.Close()

	pushClient := push.NewClient(cfg.Push.ServiceURL, cfg.UserID)
	var notifier notify.Notifier
	if pushClient.Enabled() {
		keys, err := push.EnsureVAPIDKeys(cfg.Push.VAPIDKeysFile)
		if err != nil {
			logger.Errorf("push: vapid keys: %v", err)
		} else {
			cfg.Push.VAPIDPublicKey = keys.PublicKey
		}
		notifier = pushClient
	}

	hub := ws.NewHub(cfg.Stream.MaxUIClients)
	session := chat.NewSession(chat.Config{
		UserID:       cfg.UserID,
		Chats:        chatList.Chats,
		History:      apiClient,
		Observer:     hub.ChatChanged,
		FetchTimeout: cfg.Remote.RequestTimeout,
	})
	router := notify.NewRouter(notify.Config{
		UserID:   cfg.UserID,
		Service:  apiClient,
		Store:    store,
		Observer: hub.NotificationsChanged,
		Notifier: notifier,
	})
	hub.Attach(session, router)

	var loopWg sync.WaitGroup
	loopWg.Add(2)
	go func() {
		defer loopWg.Done()
		hub.Run(ctx)
	}()
	go func() {
		defer loopWg.Done()
		session.Run(ctx)
	}()

	go func() {
		bctx, bcancel := context.WithTimeout(ctx, cfg.Remote.RequestTimeout)
		defer bcancel()
		router.Bootstrap(bctx)
	}()

	var streams []*stream.Handle
	if !*noStreams {
		streams = openStreams(ctx, cfg, session, router)
	}

	if cfg.AutoSelectFirst && len(chatList.Chats) > 0 {
		go autoSelectFirst(ctx, session)
	}

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: handler.NewRouter(handler.Deps{
			Config:        cfg,
			Session:       session,
			Notifications: router,
			Hub:           hub,
			Push:          pushClient,
		}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("gateway listening on %s", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server error: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	for _, h := range streams {
		h.Close()
		h.Wait()
	}
	logger.Info("streams closed")
	cancel()
	loopWg.Wait()
	srvWg.Wait()
	logger.Info("stopped")
	time.Sleep(100 * time.Millisecond)
}

// bootstrapChats загружает список чатов; при ошибке: пустой список.
func bootstrapChats(ctx context.Context, c *api.Client, timeout time.Duration) model.ChatList {
	fctx, fcancel := context.WithTimeout(ctx, timeout)
	defer fcancel()
	list, err := c.FetchChats(fctx)
	if err != nil {
		logger.Errorf("bootstrap chat list: %v", err)
		return model.ChatList{}
	}
	logger.Infof("bootstrap: %d chats", len(list.Chats))
	return list
}

// openDecisionStore: Redis, если задан REDIS_URL и доступен, иначе память процесса.
func openDecisionStore(ctx context.Context, cfg *config.Config) storage.DecisionStore {
	if cfg.RedisURL == "" {
		return memory.New(cfg.DecisionTTL)
	}
	client, err := startup.ConnectRedisWithRetry(ctx, cfg.RedisURL, cfg.UserID, cfg.DecisionTTL, 30*time.Second, "sync: ")
	if err != nil {
		logger.Errorf("decision store: falling back to memory: %v", err)
		return memory.New(cfg.DecisionTTL)
	}
	logger.Info("decision store: redis")
	return client
}

func openStreams(ctx context.Context, cfg *config.Config, session *chat.Session, router *notify.Router) []*stream.Handle {
	opts := func(name, url string) stream.Options {
		if target, err := stream.AuthorizedURL(url, cfg.Token); err == nil {
			logger.Debugf("stream %s: dialing %s", name, middleware.MaskURL(target))
		}
		return stream.Options{
			Name:           name,
			URL:            url,
			Token:          cfg.Token,
			WriteTimeout:   cfg.Stream.WriteTimeout,
			PongTimeout:    cfg.Stream.PongTimeout,
			MaxMessageSize: cfg.Stream.MaxMessageSize,
			SendBufferSize: cfg.Stream.SendBufferSize,
		}
	}

	var handles []*stream.Handle
	ms, err := stream.OpenMessageStream(ctx, opts("messages", cfg.MessageStreamURL()), func(m model.ChatMessage) {
		if err := session.ReceiveStreamMessage(m); err != nil {
			logger.Debugf("message %d dropped: %v", m.ID, err)
		}
	})
	if err != nil {
		logger.Errorf("message stream: %v (sending disabled)", err)
	} else {
		handles = append(handles, ms.Handle)
		if err := session.SetSender(ms); err != nil {
			logger.Errorf("attach message stream: %v", err)
		}
		go watch("message", ms.Handle)
	}

	ns, err := stream.OpenNotificationStream(ctx, opts("notifications", cfg.NotificationStreamURL()), func(ev model.Event) {
		if err := router.Route(ev); err != nil {
			logger.Errorf("route event: %v", err)
		}
	})
	if err != nil {
		logger.Errorf("notification stream: %v", err)
	} else {
		handles = append(handles, ns.Handle)
		go watch("notification", ns.Handle)
	}
	return handles
}

// watch логирует остановку стрима. Переподключения нет: доставка по стриму прекращается.
func watch(name string, h *stream.Handle) {
	<-h.Done()
	if err := h.Err(); err != nil && !errors.Is(err, stream.ErrClosed) {
		logger.Errorf("%s stream stopped: %v", name, err)
	}
}

func autoSelectFirst(ctx context.Context, session *chat.Session) {
	chats, err := session.Chats()
	if err != nil || len(chats) == 0 {
		return
	}
	if err := session.SelectChat(ctx, chats[0]); err != nil {
		logger.Errorf("auto select %s: %v", chats[0].Key(), err)
	}
}
