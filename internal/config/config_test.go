package config

import "testing"

func TestDefaultServerConfigValidates(t *testing.T) {
	if err := DefaultServerConfig().Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestValidateRejectsInvertedBounds(t *testing.T) {
	c := DefaultServerConfig()
	c.Bounds.MinX, c.Bounds.MaxX = 10, -10
	if err := c.Validate(); err == nil {
		t.Error("expected an error for inverted world bounds")
	}
}

func TestValidateRejectsZeroMaxPlayers(t *testing.T) {
	c := DefaultServerConfig()
	c.MaxPlayers = 0
	if err := c.Validate(); err == nil {
		t.Error("expected an error for zero max players")
	}
}

func TestValidateRejectsOutOfRangeCritChance(t *testing.T) {
	c := DefaultServerConfig()
	c.CritChance = 1.5
	if err := c.Validate(); err == nil {
		t.Error("expected an error for crit chance above 1")
	}
}

func TestValidateRejectsReplayWindowOutsideBounds(t *testing.T) {
	c := DefaultServerConfig()
	c.ReplayWindowSize = 200
	if err := c.Validate(); err == nil {
		t.Error("expected an error for a replay window above the hard max")
	}
}

func TestLoadServerConfigAppliesEnvOverride(t *testing.T) {
	t.Setenv("NYMQUEST_MAX_PLAYERS", "8")
	t.Setenv("NYMQUEST_MOVEMENT_SPEED", "3.5")

	c, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if c.MaxPlayers != 8 {
		t.Errorf("got MaxPlayers %d, want 8", c.MaxPlayers)
	}
	if c.MovementSpeed != 3.5 {
		t.Errorf("got MovementSpeed %v, want 3.5", c.MovementSpeed)
	}
}

func TestLoadServerConfigRejectsInvalidOverride(t *testing.T) {
	t.Setenv("NYMQUEST_MAX_PLAYERS", "-1")
	if _, err := LoadServerConfig(); err == nil {
		t.Error("expected an error aborting startup on an invalid override")
	}
}

func TestLoadServerConfigIgnoresUnparseableValue(t *testing.T) {
	t.Setenv("NYMQUEST_MAX_PLAYERS", "not-a-number")
	c, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if c.MaxPlayers != DefaultServerConfig().MaxPlayers {
		t.Errorf("got %d, want default preserved when override is unparseable", c.MaxPlayers)
	}
}

func TestDefaultClientConfigLoads(t *testing.T) {
	c, err := LoadClientConfig()
	if err != nil {
		t.Fatalf("LoadClientConfig: %v", err)
	}
	if c.RetryCount != DefaultClientConfig().RetryCount {
		t.Errorf("got RetryCount %d, want default", c.RetryCount)
	}
}

func TestLoadClientConfigRejectsZeroFPS(t *testing.T) {
	t.Setenv("NYMQUEST_CLIENT_FPS", "0")
	if _, err := LoadClientConfig(); err == nil {
		t.Error("expected an error for zero FPS")
	}
}
