package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/weftworks/weft/auth"
	"github.com/weftworks/weft/bus"
	"github.com/weftworks/weft/connector"
	"github.com/weftworks/weft/core"
	"github.com/weftworks/weft/dispatch"
	"github.com/weftworks/weft/expr"
	"github.com/weftworks/weft/manifest"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// A .env file (if any) seeds the process environment before
	// flags read their defaults.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: .env: %s", err)
	}

	var (
		manifestFile = flag.String("m", envOr("WEFT_MANIFEST", "app.yaml"), "manifest filename")
		dbFile       = flag.String("d", envOr("WEFT_DB", "weft.db"), "storage filename")
		libDir       = flag.String("l", envOr("WEFT_LIBS", "libs"), "expression libraries directory")
		addr         = flag.String("h", envOr("WEFT_ADDR", ":8080"), "HTTP listen address")
		usersName    = flag.String("u", envOr("WEFT_USERS", "users"), "connector holding user records")
		mqttBroker   = flag.String("mqtt", os.Getenv("WEFT_MQTT"), "MQTT broker to mirror broadcasts to (optional)")
		mqttPrefix   = flag.String("mqtt-prefix", envOr("WEFT_MQTT_PREFIX", "weft"), "MQTT topic prefix")
		check        = flag.Bool("check", false, "parse the manifest, print it normalized, and exit")
		debug        = flag.Bool("v", false, "log lots of wonderful things")
	)
	flag.Parse()

	m, err := manifest.Load(*manifestFile)
	if err != nil {
		log.Fatal(err)
	}

	if *check {
		bs, err := manifest.Dump(m)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Print(string(bs))
		return
	}

	db, err := connector.Open(*dbFile)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	connectors := make(map[string]connector.Connector, len(m.Connectors))
	for name, def := range m.Connectors {
		var (
			c   connector.Connector
			err error
		)
		switch def.Type {
		case "in-memory":
			c, err = connector.NewMem(name, def.InitialState)
		case "bolt":
			migrations := make([]connector.Migration, 0, len(def.Migrations))
			for _, mig := range def.Migrations {
				migrations = append(migrations, connector.Migration{
					Field: mig.IfNotExists,
					Set:   mig.Set,
				})
			}
			c, err = connector.NewBolt(db, name, def.Collection, def.InitialState, migrations)
		}
		if err != nil {
			log.Fatal(err)
		}
		connectors[name] = c
	}

	channels := make([]bus.Channel, 0, len(m.Channels))
	for name, def := range m.Channels {
		channels = append(channels, bus.Channel{
			Name:      name,
			Connector: def.Connector,
			Event:     def.Event,
		})
	}
	b := bus.NewBus(channels, connectors)
	b.Allow = m.Bridge.Allow
	b.Debug = *debug

	if *mqttBroker != "" {
		coupling, err := bus.NewMQTTCoupling(*mqttBroker, "weftd", *mqttPrefix)
		if err != nil {
			log.Fatal(err)
		}
		defer coupling.Close()
		b.Coupling = coupling.Forward
	}

	sessions, err := auth.NewStore(db)
	if err != nil {
		log.Fatal(err)
	}
	gate := &auth.Gate{
		Sessions: sessions,
		Users:    connectors[*usersName],
	}

	eval := expr.NewEvaluator()
	eval.LibraryProvider = expr.MakeDirLibraryProvider(*libDir)

	d, err := dispatch.NewDispatcher(m, connectors, b, gate, eval, map[string]core.Handler{})
	if err != nil {
		log.Fatal(err)
	}
	d.Debug = *debug

	router := d.Router()
	router.HandleFunc("/ws", b.Handler())
	router.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    *addr,
		Handler: router,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-done
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		b.Shutdown(ctx)
		srv.Shutdown(ctx)
	}()

	log.Printf("weftd serving %q on %s", m.Name, *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
