package main

import (
	"time"

	"github.com/UlleongUlleong/server-sub000/internal/config"
	"github.com/UlleongUlleong/server-sub000/internal/credstore"
	"github.com/UlleongUlleong/server-sub000/internal/db"
	"github.com/UlleongUlleong/server-sub000/internal/directory"
	clog "github.com/UlleongUlleong/server-sub000/internal/log"
	"github.com/UlleongUlleong/server-sub000/internal/registry"
	"github.com/UlleongUlleong/server-sub000/internal/server"
	"github.com/UlleongUlleong/server-sub000/internal/service"
	"github.com/UlleongUlleong/server-sub000/internal/token"
	"github.com/UlleongUlleong/server-sub000/internal/verify"
	"github.com/UlleongUlleong/server-sub000/internal/ws"

	"github.com/rs/zerolog/log"
)

func main() {
	// main 函数负责加载配置、初始化日志、接好存储并启动 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config validate")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	store, err := credstore.Open(cfg.CredStoreDir)
	if err != nil {
		log.Fatal().Err(err).Msg("credstore open")
	}
	defer store.Close()

	tokens := token.NewManager(store, cfg.JWTSecret,
		time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute,
		time.Duration(cfg.RefreshTokenTTLDays)*24*time.Hour)
	limiter := verify.NewLimiter(store, cfg.VerifyMaxAttempts, time.Duration(cfg.VerifyWindowHours)*time.Hour)
	codes := verify.NewCodes(store, limiter, time.Duration(cfg.VerifyCodeTTLMinutes)*time.Minute)

	dir := directory.New(gdb)
	reg := registry.New(store)
	hub := ws.NewHub()
	gw := ws.NewGateway(hub, reg, tokens, dir)

	userSvc := service.NewUserService(gdb, tokens, codes, service.LogMailer{})
	h := server.NewHandler(userSvc, dir, hub)

	r := server.SetupRouter(cfg, h, tokens, dir, gw)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
}
