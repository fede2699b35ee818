package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/apiarist/hive"
	"github.com/apiarist/hive/auth"
	"github.com/apiarist/hive/config"
	"github.com/apiarist/hive/schema"
	"github.com/apiarist/hive/store"
	"github.com/apiarist/hive/store/memstore"
	"github.com/apiarist/hive/store/mongostore"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Demonstration models served by the example deployment: users embed a
// profile and reference teams, exercising every association kind the
// route generator supports.
type Profile struct {
	Bio     string `bson:"bio"`
	Website string `bson:"website"`
}

type Team struct {
	ID   primitive.ObjectID `bson:"_id"`
	Name string             `bson:"name"`
}

type User struct {
	ID      primitive.ObjectID `bson:"_id"`
	Name    string             `bson:"name"`
	Email   string             `bson:"email"`
	Profile Profile            `bson:"profile"`
	Teams   []*Team            `bson:"teams"`
}

func main() {
	app := cli.NewApp()
	app.Name = "hive-server"
	app.Usage = "serve generated REST resources for the example models"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "conf",
			Usage: "path to a YAML configuration file",
		},
	}
	app.Action = serve

	grip.EmergencyFatal(app.Run(os.Args))
}

func serve(c *cli.Context) error {
	settings, err := loadSettings(c.String("conf"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := schema.NewRegistry()
	st, closeStore, err := buildStore(ctx, reg, settings)
	if err != nil {
		return err
	}
	defer closeStore()

	api := hive.New(st,
		hive.WithRegistry(reg),
		hive.WithPrefix(settings.Server.Prefix),
		hive.WithPerPage(settings.Pagination.PerPage),
	)
	if _, err = api.AddResource(Team{}); err != nil {
		return errors.Wrap(err, "adding team resource")
	}
	if _, err = api.AddResource(User{}); err != nil {
		return errors.Wrap(err, "adding user resource")
	}

	if settings.Auth.Enabled {
		err = api.EnableAuth(auth.Options{
			SecretKey:  settings.Auth.SecretKey,
			CookieName: settings.Auth.CookieName,
			Expiration: settings.Auth.Expiration.Std(),
		}, true, auth.NewGoogleProvider())
		if err != nil {
			return errors.Wrap(err, "enabling auth")
		}
	}

	handler, err := api.Handler()
	if err != nil {
		return errors.Wrap(err, "building handler")
	}

	srv := &http.Server{Addr: settings.Server.Addr(), Handler: handler}
	go func() {
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-shutdown:
		case <-ctx.Done():
		}
		grip.Info("shutting down")
		grip.Error(message.WrapError(srv.Shutdown(context.Background()), message.Fields{
			"message": "shutting down server",
		}))
	}()

	grip.Info(message.Fields{
		"message": "serving resources",
		"addr":    settings.Server.Addr(),
		"prefix":  settings.Server.Prefix,
		"auth":    settings.Auth.Enabled,
	})
	err = srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return errors.Wrap(err, "serving")
}

func loadSettings(path string) (*config.Settings, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func buildStore(ctx context.Context, reg *schema.Registry, settings *config.Settings) (store.Store, func(), error) {
	if settings.Database.URI == "" {
		grip.Info("no database configured; using the in-memory store")
		return memstore.New(reg), func() {}, nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(settings.Database.URI))
	if err != nil {
		return nil, nil, errors.Wrap(err, "connecting to database")
	}
	closer := func() {
		grip.Error(message.WrapError(client.Disconnect(context.Background()), message.Fields{
			"message": "disconnecting from database",
		}))
	}
	return mongostore.New(client.Database(settings.Database.Name), reg), closer, nil
}
