package persist_test

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bft-labs/statesync/pkg/migrate"
	"github.com/bft-labs/statesync/pkg/persist"
	"github.com/bft-labs/statesync/pkg/storage"
)

type Counter struct {
	Count int `json:"count"`
}

func Example() {
	ctx := context.Background()
	backend := storage.NewMemory()
	_ = backend.SetItem(ctx, "counter", `{"state":{"count":2},"version":1}`)

	opts := persist.Options[Counter, Counter]{
		Name:    "counter",
		Storage: storage.NewJSON(storage.Static(backend)),
		Version: 2,
		Migrate: func(raw json.RawMessage, version int) (Counter, error) {
			var c Counter
			err := json.Unmarshal(raw, &c)
			c.Count++
			return c, err
		},
	}

	s, err := persist.New(func(persist.SetFunc[Counter], func() Counter) Counter {
		return Counter{}
	}, opts)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer s.Close(ctx)

	fmt.Println("hydrated:", s.HasHydrated(), "count:", s.Get().Count)

	s.Set(func(c Counter) Counter {
		c.Count += 10
		return c
	})
	_ = s.Flush(ctx)

	raw, _, _ := backend.GetItem(ctx, "counter")
	fmt.Println(raw)
	// Output:
	// hydrated: true count: 3
	// {"state":{"count":13},"version":2}
}

func Example_expressionMigration() {
	ctx := context.Background()
	backend := storage.NewMemory()
	_ = backend.SetItem(ctx, "counter", `{"state":{"count":2},"version":1}`)

	plan, err := migrate.Compile(3, map[int]string{
		1: `set(state, "count", state.count * 10)`,
		2: `set(state, "count", state.count + 1)`,
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	opts := persist.Options[Counter, Counter]{
		Name:    "counter",
		Storage: storage.NewJSON(storage.Static(backend)),
		Version: 3,
		Migrate: migrate.Func[Counter](plan, nil),
	}
	s, err := persist.New(func(persist.SetFunc[Counter], func() Counter) Counter {
		return Counter{}
	}, opts)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer s.Close(ctx)
	_ = s.Flush(ctx)

	raw, _, _ := backend.GetItem(ctx, "counter")
	fmt.Println("count:", s.Get().Count)
	fmt.Println(raw)
	// Output:
	// count: 21
	// {"state":{"count":21},"version":3}
}
