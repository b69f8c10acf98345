package model

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// TestDecodeJSON verifies lenient parsing of model output.
func TestDecodeJSON(t *testing.T) {
	type plan struct {
		Title string `json:"title"`
	}

	tests := []struct {
		name    string
		text    string
		want    string
		wantErr bool
	}{
		{name: "plain", text: `{"title":"The Sunken Keep"}`, want: "The Sunken Keep"},
		{name: "fenced", text: "```json\n{\"title\":\"Ashfall\"}\n```", want: "Ashfall"},
		{name: "prose around object", text: "Sure! Here it is: {\"title\":\"Frostbite\"} Enjoy.", want: "Frostbite"},
		{name: "empty", text: "  ", wantErr: true},
		{name: "garbage", text: "no json here", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p plan
			err := DecodeJSON(tt.text, &p)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", p)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeJSON: %v", err)
			}
			if p.Title != tt.want {
				t.Fatalf("title = %q, want %q", p.Title, tt.want)
			}
		})
	}

	t.Run("empty is ErrNoJSON", func(t *testing.T) {
		var p plan
		if err := DecodeJSON("", &p); !errors.Is(err, ErrNoJSON) {
			t.Fatalf("err = %v, want ErrNoJSON", err)
		}
	})
}

// TestMockChatModel verifies scripted responses, errors and call history.
func TestMockChatModel(t *testing.T) {
	ctx := context.Background()

	t.Run("script then repeat last", func(t *testing.T) {
		m := &MockChatModel{Responses: []ChatOut{{Text: "one"}, {Text: "two"}}}
		var got []string
		for i := 0; i < 3; i++ {
			out, err := m.Chat(ctx, []Message{User("hi")}, nil)
			if err != nil {
				t.Fatal(err)
			}
			got = append(got, out.Text)
		}
		if got[0] != "one" || got[1] != "two" || got[2] != "two" {
			t.Fatalf("responses = %v", got)
		}
		if m.CallCount() != 3 || m.Calls[0].Messages[0].Role != RoleUser {
			t.Fatalf("calls = %+v", m.Calls)
		}
		m.Reset()
		if m.CallCount() != 0 {
			t.Fatal("Reset kept calls")
		}
	})

	t.Run("error injection", func(t *testing.T) {
		want := errors.New("rate limited")
		m := &MockChatModel{Err: want}
		if _, err := m.Chat(ctx, nil, nil); !errors.Is(err, want) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		m := &MockChatModel{}
		if _, err := m.Chat(cctx, nil, nil); !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v", err)
		}
		if m.CallCount() != 0 {
			t.Fatal("canceled call was recorded")
		}
	})

	t.Run("concurrent use", func(t *testing.T) {
		m := &MockChatModel{Responses: []ChatOut{{Text: "x"}}}
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = m.Chat(ctx, nil, nil)
			}()
		}
		wg.Wait()
		if m.CallCount() != 20 {
			t.Fatalf("calls = %d, want 20", m.CallCount())
		}
	})
}

// TestMockImageModel verifies prompts are recorded and Fn overrides URL.
func TestMockImageModel(t *testing.T) {
	m := &MockImageModel{URL: "https://img/default.png"}
	img, err := m.GenerateImage(context.Background(), "an elf ranger")
	if err != nil || img.URL != "https://img/default.png" {
		t.Fatalf("img = %+v err = %v", img, err)
	}

	m.Fn = func(string) (Image, error) { return Image{}, errors.New("blocked") }
	if _, err := m.GenerateImage(context.Background(), "a dwarf"); err == nil {
		t.Fatal("expected Fn error")
	}
	if got := m.Prompts(); len(got) != 2 || got[1] != "a dwarf" {
		t.Fatalf("prompts = %v", got)
	}
}
