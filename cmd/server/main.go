package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"economy/internal/app"
	"economy/internal/config"
	"economy/internal/infrastructure/logging"
	"economy/pkg/idgen"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "economy",
		Short:         "写合并余额账本服务",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "配置文件路径，为空时只使用默认值和环境变量")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "启动 HTTP 服务和批量落库任务",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "只执行建表",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, logger, err := bootstrap(configPath)
				if err != nil {
					return err
				}
				defer logger.Sync()

				ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Economy.LoadTimeout)
				defer cancel()
				if err := app.Migrate(ctx, cfg, logger); err != nil {
					return err
				}
				logger.Info("表结构迁移完成")
				return nil
			},
		},
	)
	return root
}

func bootstrap(configPath string) (*config.Config, *zap.Logger, error) {
	// 加载配置
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}

	// 初始化 ID 生成器
	if err := idgen.Init(1); err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func serve(parent context.Context, configPath string) error {
	cfg, logger, err := bootstrap(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// 创建上下文（用于优雅关闭）
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	a.Start(ctx)

	// 等待中断信号
	<-ctx.Done()
	logger.Info("正在关闭服务...")

	// 落库可能需要多个批次，给足 commit_timeout 之外的余量
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Economy.CommitTimeout+30*time.Second)
	defer cancel()

	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Error("服务关闭异常", zap.Error(err))
		return err
	}

	logger.Info("服务已关闭")
	return nil
}
