// Command acteon-gateway is a runnable example wiring every Acteon
// package into one process: rule engine, quota, circuit breakers,
// executor, chain/approval/group/state-machine handlers, the background
// processor, and stdout-exported tracing. It dispatches one sample
// action and exits — a starting point for embedding the gateway
// in a real service, not a production server.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/penserai/acteon/pkg/acteon"
	"github.com/penserai/acteon/pkg/audit"
	"github.com/penserai/acteon/pkg/background"
	"github.com/penserai/acteon/pkg/chain"
	"github.com/penserai/acteon/pkg/dispatch"
	"github.com/penserai/acteon/pkg/executor"
	"github.com/penserai/acteon/pkg/gateway"
	"github.com/penserai/acteon/pkg/group"
	"github.com/penserai/acteon/pkg/lock"
	"github.com/penserai/acteon/pkg/logger"
	"github.com/penserai/acteon/pkg/quota"
	"github.com/penserai/acteon/pkg/resilience"
	"github.com/penserai/acteon/pkg/rules"
	"github.com/penserai/acteon/pkg/state"
	"github.com/penserai/acteon/pkg/statemachine"
	"github.com/penserai/acteon/pkg/stream"
	"github.com/penserai/acteon/pkg/tasktracker"
	"github.com/penserai/acteon/pkg/telemetry"
)

type loggingProvider struct{ name string }

func (p loggingProvider) Invoke(ctx context.Context, action acteon.Action) (map[string]interface{}, error) {
	log.Printf("executed %s action=%s id=%s", p.name, action.ActionType, action.ID)
	return map[string]interface{}{"provider": p.name}, nil
}

func main() {
	log := logger.NewSimpleLogger()

	tel, err := telemetry.NewStdout("acteon-gateway-example")
	if err != nil {
		fmt.Println("telemetry init failed:", err)
		return
	}
	defer tel.Shutdown(context.Background())

	store := state.NewInMemoryStore()
	lk := lock.NewInMemoryLock()
	bus := stream.New(64)

	engine := rules.NewRuleEngine([]acteon.Rule{
		{
			Name: "allow-all", Enabled: true, Priority: 1,
			Condition: rules.Lit{V: rules.Bool(true)},
			Action:    acteon.RuleAction{Kind: acteon.RuleActionAllow},
		},
	})

	enforcer := quota.NewEnforcer(store, log)
	breakers := resilience.NewRegistry(resilience.Config{}, log)
	exec := executor.NewExecutor(executor.DefaultConfig())

	providers := map[string]executor.Provider{
		"pagerduty": loggingProvider{name: "pagerduty"},
		"slack":     loggingProvider{name: "slack"},
	}
	lookup := func(name string) (executor.Provider, bool) {
		p, ok := providers[name]
		return p, ok
	}

	groups := group.NewManager(store)
	machines := statemachine.NewHandler(store, lk, log, nil)
	dlq := chain.NewInMemoryDLQ()
	chains, err := chain.NewExecutor(store, lk, enforcer, breakers, exec, lookup, dlq, nil, log, nil)
	if err != nil {
		fmt.Println("chain executor init failed:", err)
		return
	}
	chains.WithTelemetry(tel)

	auditStore := audit.NewInMemoryStore(true)
	tracker := tasktracker.New(log)

	d := dispatch.New(
		dispatch.DefaultConfig(), store, lk, enforcer, engine, breakers, exec, lookup,
		groups, machines, nil, chains,
		auditStore, bus, tracker,
		nil, dispatch.PolicyResolver{}, log,
	)
	d.WithTelemetry(tel)

	bgCfg := background.DefaultConfig()
	bg := background.New(bgCfg, store, groups, machines, chains, bus, nil, log)
	bg.Run(context.Background())

	gw := gateway.New(d, dlq, bg)
	defer gw.Shutdown(context.Background())

	action := acteon.Action{
		ID: "demo-1", Namespace: "ns", Tenant: "acme", Provider: "pagerduty",
		ActionType: "incident.created",
		Payload:    map[string]interface{}{"severity": "high"},
	}
	out, err := gw.Dispatch(context.Background(), action, "example")
	if err != nil {
		fmt.Println("dispatch error:", err)
		return
	}
	fmt.Printf("outcome: %+v\n", out)

	time.Sleep(100 * time.Millisecond)
}
