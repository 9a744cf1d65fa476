package jobctl_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/jobctl/pkg/adapters/sim"
	"github.com/aretw0/jobctl/pkg/controller"
	"github.com/aretw0/jobctl/pkg/decision"
	"github.com/aretw0/jobctl/pkg/domain"
	"github.com/aretw0/jobctl/pkg/registry"
)

// Example_placement runs a placement job with a simulated glue dispenser and placer.
// The glue run chains into pick and place once it finishes.
func Example_placement() {
	job := domain.NewJob("board-a",
		domain.Operation{ID: "g1", Type: "glue"},
		domain.Operation{ID: "c1", Type: "place", Ref: "C1"},
		domain.Operation{ID: "r1", Type: "place", Ref: "R1"},
	)

	glue := sim.New(domain.ProcessorGlueDispense, sim.Options{Types: []string{"glue"}})
	placer := sim.New(domain.ProcessorPickAndPlace, sim.Options{
		Types:    []string{"place"},
		Failures: map[string]int{"c1": 1},
	})

	reg := registry.NewRegistry()
	reg.Register(domain.ProcessorGlueDispense, glue)
	reg.Register(domain.ProcessorPickAndPlace, placer)

	ctrl, err := controller.New(reg, job, controller.WithDecisionSource(decision.Policy{MaxRetries: 1}))
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()
	defer ctrl.Close(ctx)

	if err := ctrl.StartOrPause(ctx); err != nil {
		log.Fatal(err)
	}
	if err := ctrl.WaitIdle(ctx); err != nil {
		log.Fatal(err)
	}

	run, _ := ctrl.Run()
	fmt.Println("state:", ctrl.State())
	fmt.Println("glued:", glue.Calls().Completed)
	fmt.Println("placed:", placer.Calls().Completed)
	fmt.Println("last run:", run.Processor, run.Outcome, "failures:", run.Failures)
	// Output:
	// state: stopped
	// glued: [g1]
	// placed: [c1 r1]
	// last run: pick_and_place finished failures: 1
}
