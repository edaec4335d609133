package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"chimera/internal/config"
	"chimera/internal/domain"
	"chimera/internal/infra/auditmem"
	"chimera/internal/infra/cachemem"
	"chimera/internal/infra/crypto"
	"chimera/internal/infra/keys/soft"
	"chimera/internal/infra/policyopa"
	"chimera/internal/infra/runsmem"
	"chimera/internal/infra/scenariofile"
	"chimera/internal/usecase"
)

func runScenario(args []string) int {
	fs := flag.NewFlagSet("scenario run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var filePath string
	var server string
	var mode string
	var outPath string

	fs.StringVar(&filePath, "file", "", "scenario definition (yaml)")
	fs.StringVar(&server, "server", "", "run against a chimerad instance instead of in-process")
	fs.StringVar(&mode, "mode", "", "policy mode for in-process runs (default POLICY_MODE)")
	fs.StringVar(&outPath, "out", "", "write the full run record to a file (default stdout summary only)")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if filePath == "" {
		fmt.Fprintln(os.Stderr, "scenario run requires --file")
		return 1
	}

	scenario, err := scenariofile.Load(filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load scenario: %v\n", err)
		return 1
	}

	var run domain.ScenarioRun
	if server != "" {
		run, err = runRemote(context.Background(), server, scenario)
	} else {
		run, err = runLocal(context.Background(), scenario, mode)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "run scenario: %v\n", err)
		return 1
	}

	printRun(run)
	if outPath != "" {
		payload, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode run: %v\n", err)
			return 1
		}
		if err := os.WriteFile(outPath, payload, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write run: %v\n", err)
			return 1
		}
	}
	return 0
}

func runScenarioLint(args []string) int {
	fs := flag.NewFlagSet("scenario lint", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var filePath string
	fs.StringVar(&filePath, "file", "", "scenario definition (yaml)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if filePath == "" {
		fmt.Fprintln(os.Stderr, "scenario lint requires --file")
		return 1
	}

	scenario, err := scenariofile.Load(filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid scenario: %v\n", err)
		return 1
	}
	fmt.Printf("ok name=%s agents=%d steps=%d\n", scenario.Name, len(scenario.Agents), len(scenario.Steps))
	return 0
}

// runLocal executes the scenario against a freshly assembled in-memory
// engine, the same wiring chimerad uses minus persistence.
func runLocal(ctx context.Context, scenario domain.Scenario, modeOverride string) (domain.ScenarioRun, error) {
	cfg := config.FromEnv()
	if modeOverride != "" {
		cfg.PolicyMode = modeOverride
	}
	mode := domain.ParsePolicyMode(cfg.PolicyMode)

	cs := crypto.NewService()
	audit := usecase.NewAuditEmitter(auditmem.New(), nil)
	registry := usecase.NewCardRegistry(cs, nil).WithAudit(audit)
	validator := usecase.NewChainValidator(cs, cfg.MaxChainDepth)
	engine := usecase.NewHandshakeEngine(registry, validator, cs, audit, mode, cfg.SessionTimeout(), nil)
	policy := policyopa.NewStaticPolicy(cfg.RestrictedTools, nil)
	gate := usecase.NewTrustGate(engine, cachemem.New(), audit, policy, cs, mode, cfg.DecisionCacheTTL(), nil)
	orch := usecase.NewOrchestrator(registry, engine, gate, cs, soft.NewKeyring(), audit, runsmem.New(), mode, nil)

	return orch.Run(ctx, scenario)
}

func runRemote(ctx context.Context, server string, scenario domain.Scenario) (domain.ScenarioRun, error) {
	payload, err := json.Marshal(scenario)
	if err != nil {
		return domain.ScenarioRun{}, fmt.Errorf("encode scenario: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+"/v1/scenarios/run", bytes.NewReader(payload))
	if err != nil {
		return domain.ScenarioRun{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return domain.ScenarioRun{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ScenarioRun{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return domain.ScenarioRun{}, fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var run domain.ScenarioRun
	if err := json.Unmarshal(body, &run); err != nil {
		return domain.ScenarioRun{}, fmt.Errorf("decode run: %w", err)
	}
	return run, nil
}

func printRun(run domain.ScenarioRun) {
	fmt.Printf("run=%s name=%s policy_mode=%s verdict=%s\n", run.RunID, run.Name, run.PolicyMode, run.Verdict)
	for _, step := range run.Steps {
		line := fmt.Sprintf("step=%d role=%s action=%s outcome=%s", step.Index, step.Role, step.Action, step.Outcome)
		if step.Adversarial {
			line += " adversarial=true"
		}
		if step.Reason != "" {
			line += " reason=" + string(step.Reason)
		}
		if step.ScopeLeaked {
			line += " scope_leaked=true"
		}
		fmt.Println(line)
	}
}
