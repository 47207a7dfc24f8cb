package fastboot_test

import (
	"context"
	"errors"
	"testing"

	"sparseflash/fastboot"
)

func TestGetVar(t *testing.T) {
	transport, r := newFakeTransport(64)
	client := fastboot.NewClient(transport, nil)

	r.respond([]byte("OKAY0.4"))
	got, err := client.GetVar(context.Background(), "version")
	if err != nil {
		t.Fatalf("GetVar: %v", err)
	}
	if got != "0.4" {
		t.Fatalf("got %q, want %q", got, "0.4")
	}
	if len(r.commands) != 1 || r.commands[0] != "getvar:version" {
		t.Fatalf("got commands %v, want [getvar:version]", r.commands)
	}
}

func TestGetVarFailure(t *testing.T) {
	transport, r := newFakeTransport(64)
	client := fastboot.NewClient(transport, nil)

	r.respond([]byte("FAILunknown variable"))
	_, err := client.GetVar(context.Background(), "bogus")
	var devErr *fastboot.DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("got %v, want *DeviceError", err)
	}
	if devErr.Message != "unknown variable" {
		t.Fatalf("got message %q, want %q", devErr.Message, "unknown variable")
	}
}

func TestGetAllVars(t *testing.T) {
	transport, r := newFakeTransport(64)
	client := fastboot.NewClient(transport, nil)

	r.respond([]byte("INFOversion: 0.4"))
	r.respond([]byte("INFOproduct:sdm845"))
	r.respond([]byte("INFOmalformed line no colon"))
	r.respond([]byte("OKAY"))

	vars, err := client.GetAllVars(context.Background())
	if err != nil {
		t.Fatalf("GetAllVars: %v", err)
	}
	if vars["version"] != "0.4" {
		t.Fatalf("got version=%q, want 0.4", vars["version"])
	}
	if vars["product"] != "sdm845" {
		t.Fatalf("got product=%q, want sdm845", vars["product"])
	}
	if len(vars) != 2 {
		t.Fatalf("got %d vars, want 2 (malformed line must be skipped): %v", len(vars), vars)
	}
}

func TestFlashEraseReboot(t *testing.T) {
	ctx := context.Background()

	t.Run("flash", func(t *testing.T) {
		transport, r := newFakeTransport(64)
		client := fastboot.NewClient(transport, nil)
		r.respond([]byte("OKAY"))
		if err := client.Flash(ctx, "boot"); err != nil {
			t.Fatalf("Flash: %v", err)
		}
		if r.commands[0] != "flash:boot" {
			t.Fatalf("got %q, want flash:boot", r.commands[0])
		}
	})

	t.Run("erase", func(t *testing.T) {
		transport, r := newFakeTransport(64)
		client := fastboot.NewClient(transport, nil)
		r.respond([]byte("OKAY"))
		if err := client.Erase(ctx, "cache"); err != nil {
			t.Fatalf("Erase: %v", err)
		}
		if r.commands[0] != "erase:cache" {
			t.Fatalf("got %q, want erase:cache", r.commands[0])
		}
	})

	t.Run("reboot", func(t *testing.T) {
		transport, r := newFakeTransport(64)
		client := fastboot.NewClient(transport, nil)
		r.respond([]byte("OKAY"))
		if err := client.Reboot(ctx); err != nil {
			t.Fatalf("Reboot: %v", err)
		}
		if r.commands[0] != "reboot" {
			t.Fatalf("got %q, want reboot", r.commands[0])
		}
	})

	t.Run("reboot-bootloader", func(t *testing.T) {
		transport, r := newFakeTransport(64)
		client := fastboot.NewClient(transport, nil)
		r.respond([]byte("OKAY"))
		if err := client.RebootBootloader(ctx); err != nil {
			t.Fatalf("RebootBootloader: %v", err)
		}
		if r.commands[0] != "reboot-bootloader" {
			t.Fatalf("got %q, want reboot-bootloader", r.commands[0])
		}
	})

	t.Run("continue", func(t *testing.T) {
		transport, r := newFakeTransport(64)
		client := fastboot.NewClient(transport, nil)
		r.respond([]byte("OKAY"))
		if err := client.ContinueBoot(ctx); err != nil {
			t.Fatalf("ContinueBoot: %v", err)
		}
		if r.commands[0] != "continue" {
			t.Fatalf("got %q, want continue", r.commands[0])
		}
	})
}

func TestUnexpectedReply(t *testing.T) {
	transport, r := newFakeTransport(64)
	client := fastboot.NewClient(transport, nil)

	r.respond([]byte("DATA00000010"))
	if _, err := client.GetVar(context.Background(), "version"); !errors.Is(err, fastboot.ErrUnexpectedReply) {
		t.Fatalf("got %v, want ErrUnexpectedReply", err)
	}
}
