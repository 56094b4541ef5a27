package domain

import "testing"

func TestOrderRequestValidate(t *testing.T) {
	valid := OrderRequest{TokenIn: "So111", TokenOut: "USDC1", Amount: 1_000_000, OrderType: OrderTypeMarket}
	if issues := valid.Validate(); len(issues) != 0 {
		t.Fatalf("valid request produced issues: %v", issues)
	}

	cases := []struct {
		name  string
		req   OrderRequest
		field string
	}{
		{"empty tokenIn", OrderRequest{TokenOut: "B", Amount: 1, OrderType: OrderTypeMarket}, "tokenIn"},
		{"empty tokenOut", OrderRequest{TokenIn: "A", Amount: 1, OrderType: OrderTypeMarket}, "tokenOut"},
		{"same tokens", OrderRequest{TokenIn: "A", TokenOut: "A", Amount: 1, OrderType: OrderTypeMarket}, "tokenOut"},
		{"zero amount", OrderRequest{TokenIn: "A", TokenOut: "B", OrderType: OrderTypeMarket}, "amount"},
		{"missing orderType", OrderRequest{TokenIn: "A", TokenOut: "B", Amount: 1}, "orderType"},
		{"wrong orderType", OrderRequest{TokenIn: "A", TokenOut: "B", Amount: 1, OrderType: "limit"}, "orderType"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			issues := tc.req.Validate()
			if len(issues) == 0 {
				t.Fatal("expected at least one issue")
			}
			found := false
			for _, i := range issues {
				if i.Field == tc.field {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected an issue on field %q, got %v", tc.field, issues)
			}
		})
	}
}

func TestMinOutFor(t *testing.T) {
	cases := []struct {
		estimated uint64
		bps       int
		want      uint64
	}{
		{2_000_000, 100, 1_980_000},
		{2_000_000, 500, 1_900_000},
		{1, 1, 0},          // floor(1*9999/10000)
		{10_000, 1, 9_999},
		{10_000, 10000, 0},
		{0, 100, 0},
	}
	for _, tc := range cases {
		if got := MinOutFor(tc.estimated, tc.bps); got != tc.want {
			t.Errorf("MinOutFor(%d, %d) = %d, want %d", tc.estimated, tc.bps, got, tc.want)
		}
	}

	// minOut never exceeds estimatedOut.
	for bps := 1; bps <= 10000; bps += 997 {
		if MinOutFor(123_456_789, bps) > 123_456_789 {
			t.Fatalf("minOut exceeds estimatedOut at %d bps", bps)
		}
	}
}

func TestStatusRankOrdering(t *testing.T) {
	order := []Status{StatusPending, StatusQueued, StatusRouting, StatusBuilding, StatusSubmitted, StatusConfirmed}
	for i := 1; i < len(order); i++ {
		if order[i-1].Rank() >= order[i].Rank() {
			t.Fatalf("%s should rank below %s", order[i-1], order[i])
		}
	}
	if !StatusConfirmed.Terminal() || !StatusFailed.Terminal() {
		t.Fatal("confirmed and failed must be terminal")
	}
	if StatusSubmitted.Terminal() {
		t.Fatal("submitted must not be terminal")
	}
}

func TestOrderJobEmittedSet(t *testing.T) {
	job := &OrderJob{}
	if job.Emitted(StatusQueued) {
		t.Fatal("fresh job should have no emitted statuses")
	}
	job.MarkEmitted(StatusQueued)
	if !job.Emitted(StatusQueued) {
		t.Fatal("MarkEmitted did not stick")
	}
	if job.Emitted(StatusRouting) {
		t.Fatal("unrelated status reported as emitted")
	}
}
