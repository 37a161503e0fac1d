package planet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"planet-fetch/util"

	"cloud.google.com/go/datastore"
	log "github.com/sirupsen/logrus"
)

// ErrNoAPIKey is returned when no credential source yields a key.
var ErrNoAPIKey = errors.New("no planet api key: set PL_API_KEY")

type AppSettings struct {
	PlanetAPIKey string `datastore:"planet_api_key"`
}

func settingsKey() *datastore.Key {
	return datastore.NameKey("settings", "settings", nil)
}

// ResolveAPIKey finds the API key. Sources, first match wins: explicit,
// PL_API_KEY, PLANET_API_KEY, then the Datastore settings entity of
// DATASTORE_PROJECT when that variable is set.
func ResolveAPIKey(pctx context.Context, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	for _, env := range []string{"PL_API_KEY", "PLANET_API_KEY"} {
		if v := util.EnvOrDefault(env, ""); v != "" {
			return v, nil
		}
	}
	project := util.EnvOrDefault("DATASTORE_PROJECT", "")
	if project == "" {
		return "", ErrNoAPIKey
	}

	ctx, cancel := context.WithTimeout(pctx, 30*time.Second)
	defer cancel()

	log.Infof("Fetching API key from datastore project %q", project)
	ds, err := datastore.NewClient(ctx, project)
	if err != nil {
		return "", fmt.Errorf("connect to datastore: %w", err)
	}
	defer ds.Close()

	var settings AppSettings
	if err := ds.Get(ctx, settingsKey(), &settings); err != nil {
		return "", fmt.Errorf("datastore settings Get: %w", err)
	}
	if settings.PlanetAPIKey == "" {
		return "", ErrNoAPIKey
	}
	return settings.PlanetAPIKey, nil
}

// SaveAPIKey stores key in the Datastore settings entity of project.
func SaveAPIKey(pctx context.Context, project, key string) error {
	if key == "" {
		return ErrNoAPIKey
	}
	ctx, cancel := context.WithTimeout(pctx, 30*time.Second)
	defer cancel()

	log.Infof("Persisting API key to datastore project %q", project)
	ds, err := datastore.NewClient(ctx, project)
	if err != nil {
		return fmt.Errorf("connect to datastore: %w", err)
	}
	defer ds.Close()

	settings := AppSettings{PlanetAPIKey: key}
	if _, err := ds.Put(ctx, settingsKey(), &settings); err != nil {
		return fmt.Errorf("datastore settings Put: %w", err)
	}
	return nil
}
