package speech_test

import "testing"

func TestExecute_IdentifierCasing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		speech string
		want   string
	}{
		{"hello world", "hello world"},
		{"snake hello world", "hello_world"},
		{"camel hello big world", "helloBigWorld"},
		{"pascal hello world", "HelloWorld"},
		{"kebab Hello World", "hello-world"},
		{"constant max size", "MAX_SIZE"},
		{"title the end", "The End"},
		{"flat test name", "testname"},
		{"camel hello 2 world", "hello2World"},
		// A casing word shapes the words after it, separators included.
		{"hello snake Big World", "hello_big_world"},
		{"Big snake World", "Big_world"},
	}
	for _, tt := range tests {
		t.Run(tt.speech, func(t *testing.T) {
			t.Parallel()
			in, doc, _ := setup(t, "")
			mustExecute(t, in, tt.speech)
			if got := textOf(t, doc); got != tt.want {
				t.Errorf("text = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExecute_IdentifierEscapes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		speech string
		want   string
	}{
		{"letters glue", "alpha bravo charlie", "abc"},
		{"letters then word", "snake alpha bravo word", "ab_word"},
		{"capital letter", "cap alpha bravo", "Ab"},
		{"capital word", "hello cap world", "hello World"},
		{"upper case letter keeps case", "flat uniform alpha", "Ua"},
		{"literally escapes command word", "flat literally stop now", "stopnow"},
		{"first n runes", "snake first three planet", "pla"},
		{"first with digits", "snake first 2 planet", "pl"},
		{"pick positions", "snake pick 13 xyz word", "xz_word"},
		{"dangling literally is a word", "hello literally", "hello literally"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in, doc, _ := setup(t, "")
			mustExecute(t, in, tt.speech)
			if got := textOf(t, doc); got != tt.want {
				t.Errorf("text = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExecute_IdentifierStopsAtCommandWord(t *testing.T) {
	t.Parallel()
	in, doc, _ := setup(t, "")
	mustExecute(t, in, "snake my var stop camel my var")
	if got := textOf(t, doc); got != "my_var myVar" {
		t.Errorf("text = %q, want %q", got, "my_var myVar")
	}
	if n := len(in.State().Executed); n != 3 {
		t.Errorf("executed steps = %d, want 3", n)
	}
}
