package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sockline/config"
	"sockline/internal/api"
	"sockline/internal/broadcast"
	"sockline/internal/cache"
	"sockline/internal/conversation"
	"sockline/internal/database"
	"sockline/internal/events"
	"sockline/internal/streamline"
	"sockline/internal/user"
	"sockline/pkg/jwt"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := db.Migrate(); err != nil {
		log.Fatal("failed to migrate database", zap.Error(err))
	}
	sqlDB, err := db.SQL()
	if err != nil {
		log.Fatal("failed to get database pool", zap.Error(err))
	}

	// Presence survives without Redis; the server just loses the fast lookup.
	var presence user.Presence
	redisCache, err := cache.NewRedisCache(cfg.RedisAddr)
	if err != nil {
		log.Warn("redis unavailable, presence cache disabled", zap.Error(err))
	} else {
		presence = redisCache
	}

	users := user.NewService(user.NewRepository(db.DB), presence, log)
	convRepo := conversation.NewRepository(sqlDB)
	messages := conversation.NewMessagesService(conversation.NewMessageRepository(sqlDB), convRepo, log)
	conversations := conversation.NewService(convRepo, messages, users, log)

	messageBroadcaster := broadcast.NewMessageBroadcaster(conversations, messages, log)
	chatBroadcaster := broadcast.NewChatBroadcaster(conversations, messages, cfg.HistoryKeep, log)
	typingBroadcaster := broadcast.NewTypingBroadcaster(log)
	signalingBroadcaster := broadcast.NewSignalingBroadcaster(log)
	userBroadcaster := broadcast.NewUserBroadcaster(users, log)
	presenceBroadcaster := broadcast.NewPresenceBroadcaster(users, messages, log)

	tokens := jwt.NewJWT(cfg.JWTSecret, cfg.TokenExpireSeconds)

	socketServer := streamline.NewServer(log)
	socketServer.UseAuth(func(r *http.Request, credential string) (string, error) {
		claims, err := tokens.ValidateToken(credential)
		if err != nil {
			return "", err
		}
		if claims.UserID != "" {
			return claims.UserID, nil
		}
		return claims.Subject, nil
	})

	socketServer.HandleConnection(presenceBroadcaster.HandleConnection)
	socketServer.HandleConnection(func(socket *streamline.Socket, server *streamline.Server) {
		socket.On(events.MessageSend, messageBroadcaster.SaveMessage)
		socket.On(events.MessageDeleted, messageBroadcaster.DeleteMessage)
		socket.On(events.MessageEdited, messageBroadcaster.EditMessage)
		socket.On(events.MessageDelivered, messageBroadcaster.MarkDelivered)
		socket.On(events.MessageRead, messageBroadcaster.MarkRead)

		socket.On(events.ChatOpen, chatBroadcaster.Open)
		socket.On(events.ChatHistory, chatBroadcaster.History)
		socket.On(events.ChatMute, chatBroadcaster.Mute)
		socket.On(events.ChatArchive, chatBroadcaster.Archive)
		socket.On(events.ChatPin, chatBroadcaster.Pin)
		socket.On(events.ChatDelete, chatBroadcaster.Delete)
		socket.On(events.ChatCompress, chatBroadcaster.Compress)

		socket.On(events.UserTypingStart, typingBroadcaster.Typing)
		socket.On(events.UserTypingStop, typingBroadcaster.StopTyping)

		socket.On(events.P2POffer, signalingBroadcaster.Offer)
		socket.On(events.P2PAnswer, signalingBroadcaster.Answer)
		socket.On(events.P2PCandidate, signalingBroadcaster.Candidate)

		socket.On(events.UserBlocked, userBroadcaster.Block)
		socket.On(events.UserUnblocked, userBroadcaster.Unblock)
		socket.On(events.UserReported, userBroadcaster.Report)
	})
	socketServer.HandleDisconnection(presenceBroadcaster.HandleDisconnection)

	handler := socketServer.Connect(api.NewRouter(), streamline.Options{
		Path:           cfg.SocketPath,
		TokenKey:       cfg.TokenKey,
		AllowedOrigins: cfg.CORSOrigins,
	})

	server := api.NewServer(":"+cfg.Port, handler)

	go func() {
		log.Info("server starting",
			zap.String("port", cfg.Port), zap.String("socket_path", cfg.SocketPath))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}
	log.Info("server stopped")
}
