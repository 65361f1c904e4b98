// @title Exam Platform API
// @version 1.0
// @description 限时考试作答服务
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package main

import (
	"exam_platform_backend/internal/app"
	"exam_platform_backend/internal/config"
	"flag"
	"log"
)

func main() {
	configDir := flag.String("config", "configs", "配置文件目录")
	migrateOnly := flag.Bool("migrate-only", false, "只执行数据库迁移，完成后退出")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.MigrateOnly = *migrateOnly

	application := app.NewApp(cfg, *configDir)

	if *migrateOnly {
		application.Close()
		log.Println("数据库迁移完成，退出程序")
		return
	}

	application.Run()
}
