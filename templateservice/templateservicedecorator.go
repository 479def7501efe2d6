package templateservice

import (
	"context"
	"fmt"
	"time"

	"github.com/chainscribe/chainscribe/chainengine"
	"github.com/chainscribe/chainscribe/libtracker"
)

type activityTrackerDecorator struct {
	service Service
	tracker libtracker.ActivityTracker
}

func (d *activityTrackerDecorator) Create(ctx context.Context, tmpl *chainengine.TemplateSnapshot) error {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"create",
		"template",
		"id", tmpl.ID,
	)
	defer endFn()

	err := d.service.Create(ctx, tmpl)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn(tmpl.ID, map[string]interface{}{
			"id":       tmpl.ID,
			"name":     tmpl.Name,
			"taskType": tmpl.TaskType,
		})
	}

	return err
}

func (d *activityTrackerDecorator) Get(ctx context.Context, id string) (*chainengine.TemplateSnapshot, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"get",
		"template",
		"id", id,
	)
	defer endFn()

	tmpl, err := d.service.Get(ctx, id)
	if err != nil {
		reportErrFn(err)
	}

	return tmpl, err
}

func (d *activityTrackerDecorator) Update(ctx context.Context, tmpl *chainengine.TemplateSnapshot) error {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"update",
		"template",
		"id", tmpl.ID,
	)
	defer endFn()

	err := d.service.Update(ctx, tmpl)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn(tmpl.ID, map[string]interface{}{
			"name":     tmpl.Name,
			"taskType": tmpl.TaskType,
		})
	}

	return err
}

func (d *activityTrackerDecorator) Delete(ctx context.Context, id string) error {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"delete",
		"template",
		"id", id,
	)
	defer endFn()

	err := d.service.Delete(ctx, id)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn(id, nil)
	}

	return err
}

func (d *activityTrackerDecorator) List(ctx context.Context, cursor *time.Time, limit int) ([]*chainengine.TemplateSnapshot, error) {
	cursorStr := "nil"
	if cursor != nil {
		cursorStr = cursor.Format(time.RFC3339)
	}

	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"list",
		"templates",
		"cursor", cursorStr,
		"limit", fmt.Sprintf("%d", limit),
	)
	defer endFn()

	templates, err := d.service.List(ctx, cursor, limit)
	if err != nil {
		reportErrFn(err)
	}

	return templates, err
}

func (d *activityTrackerDecorator) GetTemplate(ctx context.Context, id string) (*chainengine.TemplateSnapshot, error) {
	// Hydration lookups are high volume; they ride on the plain service path
	// without a tracking span.
	return d.service.GetTemplate(ctx, id)
}

// WithActivityTracker wraps a template service with activity tracking capabilities
func WithActivityTracker(service Service, tracker libtracker.ActivityTracker) Service {
	return &activityTrackerDecorator{
		service: service,
		tracker: tracker,
	}
}
