package config

import "github.com/spf13/viper"

type Features struct {
	AuthEnabled      bool
	BillingEnabled   bool
	SchedulerEnabled bool
}

func LoadFeatures() Features {
	return Features{
		AuthEnabled:      viper.GetBool("AUTH_ENABLED"),
		BillingEnabled:   viper.GetBool("BILLING_ENABLED"),
		SchedulerEnabled: viper.GetBool("SCHEDULER_ENABLED"),
	}
}
