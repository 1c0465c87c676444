package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"outreach-platform/internal/touch"
)

func testService() (*Service, *MemoryRepo) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	svc.clock = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc, repo
}

func smsEvent() UsageEventInput {
	return UsageEventInput{
		AccountID:     "acct-1",
		LeadID:        "lead-1",
		Channel:       touch.ChannelSMS,
		Provider:      "twilio",
		RefID:         "m1",
		Source:        "dispatch_engine",
		Units:         1,
		UnitCostCents: 5,
	}
}

func TestRecordUsage_DerivesAmount(t *testing.T) {
	svc, _ := testService()

	got, err := svc.RecordUsageEvent(context.Background(), smsEvent())
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if got.AmountCents != 5 {
		t.Fatalf("expected amount 5, got %d", got.AmountCents)
	}
	if got.ID == "" || got.Channel != "sms" || got.RefID != "m1" {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if !got.OccurredAt.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected clock default occurred_at, got %s", got.OccurredAt)
	}
}

func TestRecordUsage_DuplicateReturnsFirstRow(t *testing.T) {
	svc, repo := testService()
	ctx := context.Background()

	first, err := svc.RecordUsageEvent(ctx, smsEvent())
	if err != nil {
		t.Fatalf("first record: %v", err)
	}

	// A webhook retry with a different cost must not bill twice or mutate
	// the original row.
	retry := smsEvent()
	retry.UnitCostCents = 9
	second, err := svc.RecordUsageEvent(ctx, retry)
	if err != nil {
		t.Fatalf("retry record: %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("expected the original row back, got %s vs %s", second.ID, first.ID)
	}
	if second.AmountCents != 5 {
		t.Fatalf("duplicate altered amount: %d", second.AmountCents)
	}
	if repo.Len() != 1 {
		t.Fatalf("expected a single entry, got %d", repo.Len())
	}
}

func TestRecordUsage_ConcurrentCallsBillOnce(t *testing.T) {
	svc, repo := testService()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.RecordUsageEvent(ctx, smsEvent()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent record: %v", err)
	}
	if repo.Len() != 1 {
		t.Fatalf("expected a single entry after concurrent records, got %d", repo.Len())
	}
}

func TestRecordUsage_Validation(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	cases := map[string]func(*UsageEventInput){
		"missing account":  func(in *UsageEventInput) { in.AccountID = "" },
		"bad channel":      func(in *UsageEventInput) { in.Channel = "fax" },
		"missing provider": func(in *UsageEventInput) { in.Provider = "" },
		"missing ref_id":   func(in *UsageEventInput) { in.RefID = "" },
		"missing source":   func(in *UsageEventInput) { in.Source = "" },
		"zero units":       func(in *UsageEventInput) { in.Units = 0 },
		"negative cost":    func(in *UsageEventInput) { in.UnitCostCents = -1 },
	}
	for name, mutate := range cases {
		in := smsEvent()
		mutate(&in)
		if _, err := svc.RecordUsageEvent(ctx, in); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("%s: expected ErrInvalidArgument, got %v", name, err)
		}
	}
}

func TestRecordUsage_VoiceSecondsCap(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	in := smsEvent()
	in.Channel = touch.ChannelVoice
	in.RefID = "call-1"
	in.Units = 10000
	if _, err := svc.RecordUsageEvent(ctx, in); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected voice cap rejection, got %v", err)
	}

	in.Units = MaxVoiceUnits
	got, err := svc.RecordUsageEvent(ctx, in)
	if err != nil {
		t.Fatalf("record at cap: %v", err)
	}
	if got.AmountCents != MaxVoiceUnits*5 {
		t.Fatalf("unexpected amount at cap: %d", got.AmountCents)
	}
}

func TestListForPeriod_HalfOpenWindow(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	at := func(ts time.Time, ref string) UsageEventInput {
		in := smsEvent()
		in.RefID = ref
		in.OccurredAt = ts
		return in
	}
	for _, in := range []UsageEventInput{
		at(start.Add(-time.Second), "before"),
		at(start, "at-start"),
		at(end.Add(-time.Second), "in-window"),
		at(end, "at-end"),
	} {
		if _, err := svc.RecordUsageEvent(ctx, in); err != nil {
			t.Fatalf("record %s: %v", in.RefID, err)
		}
	}

	got, err := svc.ListForPeriod(ctx, "acct-1", start, end)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows in [start, end), got %d", len(got))
	}
	if got[0].RefID != "at-start" || got[1].RefID != "in-window" {
		t.Fatalf("unexpected window rows: %s, %s", got[0].RefID, got[1].RefID)
	}
}
