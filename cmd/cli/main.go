// Command fp is a CLI client for the FitPlan service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/avdotin/fitplan/internal/client/planapi"
	"github.com/avdotin/fitplan/internal/client/queue"
	"github.com/avdotin/fitplan/internal/client/seal"
	syncengine "github.com/avdotin/fitplan/internal/client/sync"
	"github.com/avdotin/fitplan/internal/errs"
	"github.com/avdotin/fitplan/internal/model"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "fitplan")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "fitplan")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }
func sealKeyPath() string {
	return filepath.Join(cfgDir(), "queue.key")
}
func queueDBPath() string { return filepath.Join(cfgDir(), "queue.db") }

func saveToken(tok string, exp time.Time) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.Create(tokenPath())
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (login required)")
	}
	return tf.AccessToken, nil
}

// ---- engine wiring ----

func openQueue() (queue.Queue, error) {
	_ = os.MkdirAll(cfgDir(), 0o700)
	master, err := seal.LoadOrCreateKey(sealKeyPath())
	if err != nil {
		return nil, fmt.Errorf("queue key: %w", err)
	}
	sealer, err := seal.New(master)
	if err != nil {
		return nil, err
	}
	s := syncengine.DefaultStrategy()
	retryable := func(err error) bool {
		return syncengine.Classify(syncengine.OpAcknowledge, err).Retryable
	}
	return queue.OpenSQLite(queueDBPath(), sealer, s, retryable, 10*time.Second)
}

type stderrNotifier struct{}

func (stderrNotifier) PlanChanged(old, current model.TargetBundle) {
	fmt.Fprintf(os.Stderr, "plan changed significantly: calories %.0f -> %.0f, protein %.0fg -> %.0fg\n",
		old.CalorieTarget, current.CalorieTarget, old.ProteinTarget, current.ProteinTarget)
}

func newEngine(addr string, authed bool) (*syncengine.Engine, queue.Queue, error) {
	api := planapi.New(addr, 30*time.Second)
	if authed {
		tok, err := loadToken()
		if err != nil {
			return nil, nil, err
		}
		api.SetToken(tok)
	}
	q, err := openQueue()
	if err != nil {
		return nil, nil, err
	}
	e := syncengine.NewEngine(api, q, stderrNotifier{}, syncengine.DefaultStrategy(), zap.NewNop())
	return e, q, nil
}

// ---- utils ----

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `fp CLI
Usage:
  fp -addr URL <cmd> [args]

Commands:
  version
  register   -u <username> -p <password>
  login      -u <username> -p <password>           (saves token)
  plan       [-recompute]
  profile
  update     [-age N] [-sex male|female] [-height CM] [-weight KG]
             [-goal KG] [-rate KG/WK] [-activity LEVEL]
  ack
  drain
  queue
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands against the sync engine.
func main() {
	// global flags
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	switch cmd {

	case "version":
		fmt.Printf("fp %s (%s)\n", version, buildDate)

	case "register":
		fs := flag.NewFlagSet("register", flag.ExitOnError)
		u := fs.String("u", "", "username")
		p := fs.String("p", "", "password")
		_ = fs.Parse(flag.Args()[1:])
		if *u == "" || *p == "" {
			fmt.Fprintln(os.Stderr, "need -u and -p")
			os.Exit(1)
		}

		api := planapi.New(*addr, 30*time.Second)
		userID, err := api.Register(ctx, *u, *p)
		if err != nil {
			fail(err)
		}
		fmt.Println(userID)

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		u := fs.String("u", "", "username")
		p := fs.String("p", "", "password")
		_ = fs.Parse(flag.Args()[1:])
		if *u == "" || *p == "" {
			fmt.Fprintln(os.Stderr, "need -u and -p")
			os.Exit(1)
		}

		api := planapi.New(*addr, 30*time.Second)
		resp, err := api.Login(ctx, *u, *p)
		if err != nil {
			fail(err)
		}
		if err := saveToken(resp.AccessToken, resp.ExpiresAt); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "plan":
		fs := flag.NewFlagSet("plan", flag.ExitOnError)
		recompute := fs.Bool("recompute", false, "force a server-side recompute")
		_ = fs.Parse(flag.Args()[1:])

		e, q, err := newEngine(*addr, true)
		if err != nil {
			fail(err)
		}
		defer q.Close()

		res, err := e.FetchPlan(ctx, *recompute)
		if err != nil {
			fail(err)
		}
		if res.Notice != "" {
			fmt.Fprintln(os.Stderr, res.Notice)
		}
		printPlan(res.Artifact, res.Stale)

	case "profile":
		e, q, err := newEngine(*addr, true)
		if err != nil {
			fail(err)
		}
		defer q.Close()

		p, err := e.LoadProfile(ctx)
		if err != nil {
			fail(err)
		}
		printProfile(*p)

	case "update":
		fs := flag.NewFlagSet("update", flag.ExitOnError)
		age := fs.Int("age", 0, "age in years")
		sex := fs.String("sex", "", "male|female")
		height := fs.Float64("height", 0, "height, cm")
		weight := fs.Float64("weight", 0, "current weight, kg")
		goal := fs.Float64("goal", 0, "goal weight, kg")
		rate := fs.Float64("rate", 0, "weekly rate, kg/week (negative = loss)")
		activity := fs.String("activity", "", "sedentary|light|moderate|active|very_active")
		_ = fs.Parse(flag.Args()[1:])

		e, q, err := newEngine(*addr, true)
		if err != nil {
			fail(err)
		}
		defer q.Close()

		res, err := e.UpdateProfileAndRecompute(ctx, func(p *model.Profile) {
			applyUpdateFlags(p, *age, *sex, *height, *weight, *goal, *rate, *activity,
				flagWasSet(fs, "goal"), flagWasSet(fs, "rate"))
		})
		if err != nil {
			fail(err)
		}
		printProfile(res.Profile)
		if res.Notice != "" {
			fmt.Fprintln(os.Stderr, res.Notice)
		}
		if res.Plan != nil {
			printPlan(res.Plan.Artifact, res.Plan.Stale)
		}

	case "ack":
		e, q, err := newEngine(*addr, true)
		if err != nil {
			fail(err)
		}
		defer q.Close()

		if _, err := e.FetchPlan(ctx, false); err != nil {
			fail(err)
		}
		res, err := e.Acknowledge(ctx)
		if errors.Is(err, errs.ErrNothingToAcknowledge) {
			fmt.Println("nothing to acknowledge")
			return
		}
		if err != nil {
			fail(err)
		}
		if res.Queued {
			fmt.Fprintln(os.Stderr, res.Notice)
			return
		}
		fmt.Println("ok")

	case "drain":
		e, q, err := newEngine(*addr, true)
		if err != nil {
			fail(err)
		}
		defer q.Close()

		res, err := e.Drain(ctx)
		if err != nil {
			fail(err)
		}
		fmt.Printf("sent=%d queued=%d\n", res.Succeeded, res.StillQueued)
		for _, f := range res.Failures {
			fmt.Fprintf(os.Stderr, "dropped v%d: %s\n", f.Op.Version,
				syncengine.Classify(syncengine.OpAcknowledge, f.Err).UserMessage)
		}

	case "queue":
		q, err := openQueue()
		if err != nil {
			fail(err)
		}
		defer q.Close()

		st, err := q.Statistics()
		if err != nil {
			fail(err)
		}
		printJSON(st)

	default:
		usage()
	}
}

// applyUpdateFlags copies only the flags the user actually passed into the
// profile. Goal and rate legitimately take zero values, so they use
// explicit was-set checks instead of zero sentinels.
func applyUpdateFlags(p *model.Profile, age int, sex string, height, weight, goal, rate float64,
	activity string, goalSet, rateSet bool) {
	if age > 0 {
		p.Age = age
	}
	if sex != "" {
		p.Sex = model.Sex(strings.ToLower(sex))
	}
	if height > 0 {
		p.HeightCm = height
	}
	if weight > 0 {
		p.WeightKg = weight
	}
	if goalSet {
		p.GoalWeightKg = goal
	}
	if rateSet {
		p.WeeklyRateKg = rate
	}
	if activity != "" {
		p.ActivityLevel = model.ActivityLevel(strings.ToLower(activity))
	}
}

func flagWasSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func fail(err error) {
	var ce *syncengine.ClassifiedError
	if errors.As(err, &ce) {
		fmt.Fprintln(os.Stderr, ce.UserMessage)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
