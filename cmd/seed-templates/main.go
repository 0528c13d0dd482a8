// Command seed-templates upserts sms_templates rows from a YAML file.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/creatus-team/v3/internal/app/bootstrap"
	appconfig "github.com/creatus-team/v3/internal/config"
	"github.com/creatus-team/v3/internal/messaging"
	"github.com/creatus-team/v3/internal/messaging/templates"
	"github.com/creatus-team/v3/pkg/logging"
)

type seedFile struct {
	Templates []seedTemplate `yaml:"templates" validate:"required,dive"`
}

type seedTemplate struct {
	Event      string  `yaml:"event" validate:"required"`
	Recipient  string  `yaml:"recipient" validate:"required,oneof=STUDENT COACH ADMIN"`
	Trigger    string  `yaml:"trigger" validate:"omitempty,oneof=EVENT SCHEDULE"`
	Content    string  `yaml:"content" validate:"required"`
	DaysBefore *int    `yaml:"days_before" validate:"omitempty,min=0,max=30"`
	SendTime   *string `yaml:"send_time" validate:"omitempty,len=5"`
	Inactive   bool    `yaml:"inactive"`
}

func (s seedTemplate) template() templates.Template {
	return templates.Template{
		EventType:     s.Event,
		RecipientType: messaging.Recipient(s.Recipient),
		TriggerType:   s.Trigger,
		Content:       s.Content,
		DaysBefore:    s.DaysBefore,
		SendTime:      s.SendTime,
		IsActive:      !s.Inactive,
	}
}

// parseSeed decodes and validates a seed file.
func parseSeed(r io.Reader) ([]templates.Template, error) {
	var f seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("invalid seed file: %w", err)
	}
	out := make([]templates.Template, 0, len(f.Templates))
	seen := make(map[string]bool, len(f.Templates))
	for _, st := range f.Templates {
		key := st.Event + "/" + st.Recipient
		if seen[key] {
			return nil, fmt.Errorf("duplicate template %s", key)
		}
		seen[key] = true
		t := st.template()
		if t.TriggerType == templates.TriggerSchedule && t.DaysBefore == nil {
			return nil, fmt.Errorf("schedule template %s needs days_before", key)
		}
		out = append(out, t)
	}
	return out, nil
}

func main() {
	_ = godotenv.Load()

	path := flag.String("file", "configs/sms_templates.yaml", "YAML file with templates")
	flag.Parse()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel).Component("seed-templates")

	f, err := os.Open(*path)
	if err != nil {
		logger.Error("open seed file", "error", err, "path", *path)
		os.Exit(1)
	}
	defer f.Close()

	items, err := parseSeed(f)
	if err != nil {
		logger.Error("parse seed file", "error", err, "path", *path)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := bootstrap.BuildPool(ctx, cfg)
	if err != nil {
		logger.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := templates.NewStore(pool)
	for _, t := range items {
		if _, err := store.Upsert(ctx, t); err != nil {
			logger.Error("upsert template", "error", err, "event", t.EventType, "recipient", t.RecipientType)
			os.Exit(1)
		}
	}
	logger.Info("templates seeded", "count", len(items), "path", *path)
}
