package main

import "testing"

func TestRedactDSN(t *testing.T) {
	cases := map[string]string{
		"postgres://app:s3cret@db:5432/jobs?sslmode=disable": "postgres://app:****@db:5432/jobs?sslmode=disable",
		"redis://:pw@localhost:6379/0":                       "redis://:****@localhost:6379/0",
		"postgres://app@db:5432/jobs":                        "postgres://app@db:5432/jobs",
		"":                                                   "",
	}
	for in, want := range cases {
		if got := redactDSN(in); got != want {
			t.Errorf("redactDSN(%q) = %q, want %q", in, got, want)
		}
	}
}
