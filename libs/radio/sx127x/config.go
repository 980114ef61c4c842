package sx127x

// Config is the cleanenv-loaded configuration for one SX127x transceiver
// instance.
type Config struct {
	Enable bool   `yaml:"enable" env:"SX127X_ENABLE" env-default:"false"`
	Pins   Pins   `yaml:"pins"`
	PABoost bool  `yaml:"pa_boost" env:"SX127X_PA_BOOST" env-default:"true"`
}

// Pins names the GPIO lines the transceiver is wired to, resolved via
// periph.io's gpioreg in New.
type Pins struct {
	Reset string `yaml:"reset" env:"SX127X_GPIO_RESET" env-default:"GPIO22"`
	DIO0  string `yaml:"dio0" env:"SX127X_GPIO_DIO0" env-default:"GPIO4"`
}
