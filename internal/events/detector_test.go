package events

import (
	"testing"
	"time"
)

func newStates() []*TaskState {
	return []*TaskState{
		NewTaskState("Ref", CategoryReference),
		NewTaskState("Svc", CategoryNormal),
	}
}

func TestNewTaskStateStartsSuccessful(t *testing.T) {
	s := NewTaskState("API", CategoryNormal)
	if !s.LastSuccess {
		t.Fatal("LastSuccess 初始值应为 true")
	}
}

func TestEvaluate_ReferenceFailureGatesNormalTasks(t *testing.T) {
	states := []*TaskState{
		NewTaskState("Ref1", CategoryReference),
		NewTaskState("Ref2", CategoryReference),
		NewTaskState("A", CategoryNormal),
		NewTaskState("B", CategoryNormal),
	}

	refOK := Evaluate(states, map[string]bool{"Ref1": true, "Ref2": false, "A": false, "B": true})
	if refOK {
		t.Fatal("任一参照项失败时 referenceSuccess 应为 false")
	}
	for _, s := range states[2:] {
		if !s.RelativeSuccess {
			t.Errorf("%s: 参照失败时普通项相对成功应为 true", s.Name)
		}
	}
	if states[2].RawSuccess {
		t.Error("原始结果应被保留")
	}
}

func TestEvaluate_RelativeEqualsRawWhenReferencesSucceed(t *testing.T) {
	tests := []struct {
		name   string
		states []*TaskState
		raw    map[string]bool
	}{
		{
			name: "all references succeed",
			states: []*TaskState{
				NewTaskState("Ref", CategoryReference),
				NewTaskState("A", CategoryNormal),
				NewTaskState("B", CategoryNormal),
			},
			raw: map[string]bool{"Ref": true, "A": false, "B": true},
		},
		{
			name: "empty reference set",
			states: []*TaskState{
				NewTaskState("A", CategoryNormal),
				NewTaskState("B", CategoryNormal),
			},
			raw: map[string]bool{"A": false, "B": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !Evaluate(tt.states, tt.raw) {
				t.Fatal("referenceSuccess 应为 true")
			}
			for _, s := range tt.states {
				if s.IsReference() {
					continue
				}
				if s.RelativeSuccess != tt.raw[s.Name] {
					t.Errorf("%s: RelativeSuccess = %v, want %v", s.Name, s.RelativeSuccess, tt.raw[s.Name])
				}
			}
		})
	}
}

func TestEvaluate_MissingResultCountsAsFailure(t *testing.T) {
	states := []*TaskState{NewTaskState("A", CategoryNormal)}
	Evaluate(states, map[string]bool{})
	if states[0].RelativeSuccess {
		t.Fatal("缺失的探测结果应视为失败")
	}
}

func TestDetector_SingleOfflineOnFirstCycle(t *testing.T) {
	d := NewDetector()
	states := []*TaskState{
		NewTaskState("Ref", CategoryReference),
		NewTaskState("API", CategoryNormal),
		NewTaskState("Web", CategoryNormal),
	}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	Evaluate(states, map[string]bool{"Ref": true, "API": false, "Web": true})
	evs := d.Detect(states, now)

	if len(evs) != 1 {
		t.Fatalf("应只产生 1 个事件, got %d: %+v", len(evs), evs)
	}
	ev := evs[0]
	if ev.Kind != EventTypeOffline || ev.Service != "API" || !ev.Timestamp.Equal(now) {
		t.Fatalf("事件不符合预期: %+v", ev)
	}
	if ev.ID == "" {
		t.Error("事件应带有 ID")
	}
	if ev.FormattedTimestamp() != "2024-05-01T12:00:00Z" {
		t.Errorf("FormattedTimestamp = %s", ev.FormattedTimestamp())
	}
}

func TestDetector_SustainedFailureEmitsOnce(t *testing.T) {
	d := NewDetector()
	states := []*TaskState{NewTaskState("API", CategoryNormal)}
	now := time.Now()

	total := 0
	for i := 0; i < 5; i++ {
		Evaluate(states, map[string]bool{"API": false})
		total += len(d.Detect(states, now.Add(time.Duration(i)*time.Minute)))
	}
	if total != 1 {
		t.Fatalf("持续失败应只产生 1 个 OFFLINE 事件, got %d", total)
	}
}

func TestDetector_EventsAlternate(t *testing.T) {
	d := NewDetector()
	states := []*TaskState{NewTaskState("API", CategoryNormal)}
	seq := []bool{true, false, false, true, true, false, true, false, false, true}

	var kinds []EventType
	now := time.Now()
	for i, ok := range seq {
		Evaluate(states, map[string]bool{"API": ok})
		for _, ev := range d.Detect(states, now.Add(time.Duration(i)*time.Minute)) {
			kinds = append(kinds, ev.Kind)
		}
	}

	want := []EventType{EventTypeOffline, EventTypeOnline, EventTypeOffline, EventTypeOnline, EventTypeOffline, EventTypeOnline}
	if len(kinds) != len(want) {
		t.Fatalf("事件序列 = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("事件序列 = %v, want %v", kinds, want)
		}
	}
}

func TestDetector_ReferenceScenario(t *testing.T) {
	d := NewDetector()
	states := newStates()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// 周期 1：全部成功
	Evaluate(states, map[string]bool{"Ref": true, "Svc": true})
	if evs := d.Detect(states, base); len(evs) != 0 {
		t.Fatalf("周期 1 不应产生事件, got %+v", evs)
	}

	// 周期 2：参照失败，服务失败 → 门控为成功
	Evaluate(states, map[string]bool{"Ref": false, "Svc": false})
	if !states[1].RelativeSuccess {
		t.Fatal("周期 2 Svc 应被门控为成功")
	}
	if evs := d.Detect(states, base.Add(time.Minute)); len(evs) != 0 {
		t.Fatalf("周期 2 不应产生事件, got %+v", evs)
	}

	// 周期 3：参照恢复，服务仍失败 → OFFLINE
	t3 := base.Add(2 * time.Minute)
	Evaluate(states, map[string]bool{"Ref": true, "Svc": false})
	evs := d.Detect(states, t3)
	if len(evs) != 1 {
		t.Fatalf("周期 3 应产生 1 个事件, got %+v", evs)
	}
	if evs[0].Kind != EventTypeOffline || evs[0].Service != "Svc" || !evs[0].Timestamp.Equal(t3) {
		t.Fatalf("周期 3 事件不符合预期: %+v", evs[0])
	}
}

func TestDetector_ReferenceTasksNeverEmit(t *testing.T) {
	d := NewDetector()
	states := []*TaskState{NewTaskState("Ref", CategoryReference)}

	Evaluate(states, map[string]bool{"Ref": false})
	if evs := d.Detect(states, time.Now()); len(evs) != 0 {
		t.Fatalf("参照项不应产生事件, got %+v", evs)
	}
	if states[0].LastSuccess {
		t.Error("参照项 LastSuccess 也应更新")
	}
}

func TestCategoryIsValid(t *testing.T) {
	if !CategoryReference.IsValid() || !CategoryNormal.IsValid() {
		t.Fatal("内置分类应有效")
	}
	if Category("reference").IsValid() {
		t.Fatal("分类区分大小写")
	}
}
