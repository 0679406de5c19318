package main

import (
	"time"

	"dmchat/internal/config"
	"dmchat/internal/db"
	clog "dmchat/internal/log"
	"dmchat/internal/presence"
	"dmchat/internal/server"
	"dmchat/internal/ws"

	"github.com/rs/zerolog/log"
)

func main() {
	// 加载配置、初始化日志、连接 Postgres 与 Redis，再启动 Gin 服务。
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

	rdb, err := presence.Connect(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connect")
	}
	pres := presence.NewStore(rdb, time.Duration(cfg.PresenceTTLSeconds)*time.Second)

	hub := ws.NewHub()
	r := server.SetupRouter(cfg, gdb, hub, pres)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
}
