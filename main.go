package main

import (
	"log"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	app := cli.App{
		Name: "socialpulse",
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "db",
			Value:   "socialpulse.db",
			EnvVars: []string{"SOCIALPULSE_DB"},
		},
		&cli.StringFlag{
			Name:  "api-bind",
			Value: ":4444",
		},
		&cli.StringFlag{
			Name:  "metrics-bind",
			Value: ":4445",
		},
		&cli.IntFlag{
			Name:  "workers",
			Value: 4,
		},
	}
	app.Action = func(cctx *cli.Context) error {
		db, err := gorm.Open(sqlite.Open(cctx.String("db")), &gorm.Config{})
		if err != nil {
			return err
		}

		db.Logger = logger.New(log.New(os.Stdout, "\r\n", log.LstdFlags), logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: false,
			Colorful:                  true,
		})

		db.AutoMigrate(Item{})
		db.AutoMigrate(Counter{})
		db.AutoMigrate(Setting{})

		store, err := NewCounterStore(db)
		if err != nil {
			return err
		}

		sched := NewScheduler(db, store, NewProviderClient())
		sched.Start(cctx.Int("workers"))
		defer sched.Stop()

		s := &Server{
			db:    db,
			store: store,
			sched: sched,
		}

		go func() {
			http.Handle("/metrics", promhttp.Handler())
			http.ListenAndServe(cctx.String("metrics-bind"), nil)
		}()

		slog.Info("starting api server", "bind", cctx.String("api-bind"))

		return s.runApiServer(cctx.String("api-bind"))
	}

	app.RunAndExitOnError()
}

type Server struct {
	db    *gorm.DB
	store *CounterStore
	sched *Scheduler
}
