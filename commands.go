package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"sweatbot/internal/config"
	"sweatbot/internal/points"
	"sweatbot/internal/registry"
)

// InitCmd writes ~/.sweatbot/config.json
type InitCmd struct{}

func (c *InitCmd) Run(env *runEnv) error {
	if err := config.CreateExample(); err != nil {
		return fmt.Errorf("creating example config: %w", err)
	}
	dir, err := config.GetConfigDir()
	if err != nil {
		return err
	}
	fmt.Printf("Config written to:\n  %s/config.json\n", dir)
	return nil
}

// ValidateCmd parses a registry document and reports problems
type ValidateCmd struct {
	File string `arg:"" optional:"" help:"Registry YAML or JSON file; the configured source when omitted." type:"existingfile"`
}

func (c *ValidateCmd) Run(env *runEnv) error {
	var reg *registry.Registry
	if c.File != "" {
		data, err := os.ReadFile(c.File)
		if err != nil {
			return fmt.Errorf("reading %s: %w", c.File, err)
		}
		if reg, err = registry.Parse(data, registry.FormatFromPath(c.File)); err != nil {
			return err
		}
	} else {
		h, err := env.loadRegistry()
		if err != nil {
			return err
		}
		reg = h.Current()
	}

	fmt.Printf("Registry %s is valid\n", reg.Version)
	fmt.Printf("  exercises:    %d\n", len(reg.Exercises()))
	fmt.Printf("  bonus rules:  %d\n", len(reg.BonusRules()))
	fmt.Printf("  multipliers:  %d\n", len(reg.MultiplierRules()))
	fmt.Printf("  achievements: %d\n", len(reg.Achievements()))

	malformed := 0
	for _, r := range append(reg.BonusRules(), reg.MultiplierRules()...) {
		if _, err := r.Matches(nil); err != nil {
			fmt.Printf("  warning: rule %s never matches: %v\n", r.ID, err)
			malformed++
		}
	}
	for _, a := range reg.Achievements() {
		if _, err := a.ParsedCondition(); err != nil {
			fmt.Printf("  warning: achievement %s never unlocks: %v\n", a.ID, err)
			malformed++
		}
	}
	if malformed > 0 {
		fmt.Printf("%d malformed condition(s)\n", malformed)
	}
	return nil
}

// ActivityFlags describe one activity on the command line, or point at a
// JSON file ("-" for stdin) holding it.
type ActivityFlags struct {
	File string `help:"Activity JSON file, - for stdin." short:"f"`

	User     string        `help:"User id." default:"local"`
	Exercise string        `help:"Exercise key or name, Hebrew or English." short:"e"`
	Start    time.Time     `help:"Start time (RFC 3339); defaults to now minus duration." format:"2006-01-02T15:04:05Z07:00"`
	Length   time.Duration `help:"How long the activity took." default:"30m"`

	Reps      int     `help:"Reps per set."`
	Sets      int     `help:"Sets."`
	Weight    float64 `help:"Weight in kg."`
	Distance  float64 `help:"Distance in km."`
	Seconds   float64 `help:"Active duration in seconds."`
	HeartRate float64 `help:"Average heart rate." name:"hr"`
	Elevation float64 `help:"Elevation gain in meters."`
}

func (f ActivityFlags) activity(reg *registry.Registry) (points.Activity, error) {
	if f.File != "" {
		return readActivity(f.File)
	}
	if f.Exercise == "" {
		return points.Activity{}, errors.New("--exercise or --file is required")
	}

	key := f.Exercise
	if reg != nil {
		if def, ok := reg.LookupByName(f.Exercise); ok {
			key = def.Key
		}
	}

	start := f.Start
	if start.IsZero() {
		start = time.Now().Add(-f.Length)
	}
	return points.Activity{
		ID:           uuid.NewString(),
		UserID:       f.User,
		ExerciseKey:  key,
		Start:        start,
		End:          start.Add(f.Length),
		Reps:         f.Reps,
		Sets:         f.Sets,
		WeightKg:     f.Weight,
		DistanceKm:   f.Distance,
		DurationSec:  f.Seconds,
		HeartRateAvg: f.HeartRate,
		ElevationM:   f.Elevation,
	}, nil
}

func readActivity(path string) (points.Activity, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return points.Activity{}, fmt.Errorf("opening activity file: %w", err)
		}
		defer file.Close()
		r = file
	}
	var a points.Activity
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return points.Activity{}, fmt.Errorf("decoding activity: %w", err)
	}
	return a, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// ScoreCmd runs the calculator only; nothing is stored
type ScoreCmd struct {
	ActivityFlags

	StreakDays int64 `help:"Current streak in days."`
	FirstToday bool  `help:"Treat as the first activity today."`
	Record     bool  `help:"Treat as a personal record."`
}

func (c *ScoreCmd) Run(env *runEnv) error {
	if _, err := env.open(); err != nil {
		return err
	}
	reg := env.engine.Registry()
	a, err := c.activity(reg)
	if err != nil {
		return err
	}
	uc := points.UserContext{
		StreakDays:           c.StreakDays,
		IsFirstActivityToday: c.FirstToday,
		IsPersonalRecord:     c.Record,
		MaxHeartRate:         env.cfg.Scoring.MaxHeartRate,
		Location:             env.cfg.Location(),
	}
	return printJSON(env.engine.CalculateWith(reg, a, uc))
}

// RecordCmd runs the full pipeline and stores the result
type RecordCmd struct {
	ActivityFlags
}

func (c *RecordCmd) Run(env *runEnv) error {
	svc, err := env.open()
	if err != nil {
		return err
	}
	a, err := c.activity(env.engine.Registry())
	if err != nil {
		return err
	}
	res, err := svc.Record(env.ctx, a, points.UserContext{MaxHeartRate: env.cfg.Scoring.MaxHeartRate})
	if err != nil {
		return err
	}
	return printJSON(res)
}

// ProgressCmd prints achievement progress
type ProgressCmd struct {
	User string `arg:"" help:"User id."`
}

func (c *ProgressCmd) Run(env *runEnv) error {
	svc, err := env.open()
	if err != nil {
		return err
	}
	progress, err := svc.UserProgress(env.ctx, c.User)
	if err != nil {
		return err
	}
	reg := env.engine.Registry()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACHIEVEMENT\tPROGRESS\tVALUE\tETA")
	for _, p := range progress {
		name := p.AchievementID
		if def, ok := reg.Achievement(p.AchievementID); ok && def.NameHE != "" {
			name = def.NameHE
		}
		eta := "-"
		switch {
		case p.Unlocked:
			eta = "unlocked"
		case p.ETADays != nil:
			eta = fmt.Sprintf("%.1f days", *p.ETADays)
		}
		fmt.Fprintf(w, "%s\t%s %3.0f%%\t%g/%g\t%s\n", name, bar(p.Percent), p.Percent, p.Value, p.Target, eta)
	}
	return w.Flush()
}

func bar(percent float64) string {
	const width = 10
	filled := int(percent / 100 * width)
	filled = max(0, min(width, filled))
	return strings.Repeat("#", filled) + strings.Repeat(".", width-filled)
}

// GrantGraceCmd adds grace tokens to a user's streak
type GrantGraceCmd struct {
	User  string `arg:"" help:"User id."`
	Count int    `arg:"" optional:"" help:"Tokens to add." default:"1"`
	Max   int    `help:"Most tokens a user may hold." default:"3"`
}

func (c *GrantGraceCmd) Run(env *runEnv) error {
	svc, err := env.open()
	if err != nil {
		return err
	}
	s, err := svc.GrantGraceTokens(env.ctx, c.User, c.Count, c.Max)
	if err != nil {
		return err
	}
	fmt.Printf("%s now holds %d grace token(s), streak %d (best %d)\n", c.User, s.GraceTokens, s.Current, s.Best)
	return nil
}

// LeaderboardCmd prints the top users over a window
type LeaderboardCmd struct {
	Window time.Duration `help:"Trailing window; 0 for all time." default:"168h"`
	Limit  int           `help:"Rows to show." default:"10"`
}

func (c *LeaderboardCmd) Run(env *runEnv) error {
	svc, err := env.open()
	if err != nil {
		return err
	}
	entries, err := svc.Leaderboard(env.ctx, c.Window, c.Limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tUSER\tPOINTS\tACTIVITIES")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\n", e.Rank, e.UserID, e.Points, e.Activities)
	}
	return w.Flush()
}

// WatchCmd reloads the registry on the configured interval until interrupted
type WatchCmd struct {
	Interval time.Duration `help:"Reload interval; the configured one when zero."`
}

func (c *WatchCmd) Run(env *runEnv) error {
	h, err := env.loadRegistry()
	if err != nil {
		return err
	}
	interval := c.Interval
	if interval <= 0 {
		interval = env.cfg.Registry.ReloadInterval.Duration
	}
	w, err := registry.NewWatcher(h, interval)
	if err != nil {
		return err
	}
	w.Start()
	fmt.Printf("Watching registry %s every %s\n", h.Current().Version, interval)

	<-env.ctx.Done()
	if err := w.Stop(); err != nil {
		return fmt.Errorf("stopping watcher: %w", err)
	}
	fmt.Printf("Stopped at registry %s\n", h.Current().Version)
	return nil
}
