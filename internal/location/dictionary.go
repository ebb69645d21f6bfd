package location

// DefaultDescriptors 返回内置的位置字典。
func DefaultDescriptors() []Descriptor {
	return []Descriptor{
		// ========== API 栈 ==========
		{LocTypeID: InsightAPI, Environment: Production, Residency: ResidencyUS, URI: "https://api.cloudinsight.alertlogic.com"},
		{LocTypeID: InsightAPI, Environment: Production, Residency: ResidencyEMEA, URI: "https://api.cloudinsight.alertlogic.co.uk"},
		{LocTypeID: InsightAPI, Environment: Integration, URI: "https://api.product.dev.alertlogic.com"},
		{LocTypeID: InsightAPI, Environment: Development, URI: "https://api.product.dev.alertlogic.com"},
		{LocTypeID: InsightAPI, URI: "https://api.cloudinsight.alertlogic.com"},

		{LocTypeID: GlobalAPI, Environment: Production, URI: "https://api.global-services.global.alertlogic.com"},
		{LocTypeID: GlobalAPI, Environment: Integration, URI: "https://api.global-integration.product.dev.alertlogic.com"},
		{LocTypeID: GlobalAPI, Environment: Development, URI: "https://api.global-integration.product.dev.alertlogic.com"},
		{LocTypeID: GlobalAPI, URI: "https://api.global-services.global.alertlogic.com"},

		{LocTypeID: IntegrationsAPI, Environment: Production, Residency: ResidencyUS, URI: "https://{service}.mdr.global.alertlogic.com"},
		{LocTypeID: IntegrationsAPI, Environment: Production, Residency: ResidencyEMEA, URI: "https://{service}.mdr.global.alertlogic.co.uk"},
		{LocTypeID: IntegrationsAPI, Environment: Integration, URI: "https://{service}.mdr.product.dev.alertlogic.com"},

		// ========== 控制台 ==========
		{
			LocTypeID: MagmaUI, Environment: Production, Residency: ResidencyUS, Keyword: "magma", Weight: 1,
			URI: "https://console.magma.alertlogic.com",
		},
		{
			LocTypeID: MagmaUI, Environment: Production, Residency: ResidencyEMEA, Keyword: "magma", Weight: 2,
			URI: "https://console.magma.alertlogic.co.uk",
		},
		{
			LocTypeID: MagmaUI, Environment: Integration, Keyword: "magma", Weight: 3,
			URI:     "https://console.magma.product.dev.alertlogic.com",
			Aliases: []string{"https://magma-*.ui-dev.product.dev.alertlogic.com"},
		},
		{
			LocTypeID: MagmaUI, Environment: Development, Keyword: "localhost:4213", Weight: 1,
			URI: "http://localhost:4213",
		},
		{
			LocTypeID: AccountsUI, Environment: Production, Keyword: "account", Weight: 1,
			URI: "https://console.account.alertlogic.com",
		},
		{
			LocTypeID: AccountsUI, Environment: Integration, Keyword: "account", Weight: 2,
			URI:     "https://console.account.product.dev.alertlogic.com",
			Aliases: []string{"https://accounts-*.ui-dev.product.dev.alertlogic.com"},
		},
		{
			LocTypeID: LegacyUI, Environment: Production, Residency: ResidencyUS, InsightLocationID: "defender-us-denver",
			Keyword: "clouddefender", URI: "https://console.clouddefender.alertlogic.com",
		},
		{
			LocTypeID: LegacyUI, Environment: Production, Residency: ResidencyUS, InsightLocationID: "defender-us-ashburn",
			Keyword: "alertlogic.net", URI: "https://console.alertlogic.net",
		},
		{
			LocTypeID: LegacyUI, Environment: Production, Residency: ResidencyEMEA, InsightLocationID: "defender-uk-newport",
			Keyword: "console.alertlogic.co.uk", URI: "https://console.alertlogic.co.uk",
		},
		{
			LocTypeID: LegacyUI, Environment: Integration, Keyword: "defender", Weight: 5,
			URI: "https://defender.product.dev.alertlogic.com",
		},
	}
}

// InsightLocations 返回内置的洞察位置表。
func InsightLocations() []InsightLocation {
	return []InsightLocation{
		{ID: "defender-us-denver", Residency: ResidencyUS, LogicalRegion: "us-west"},
		{ID: "defender-us-ashburn", Residency: ResidencyUS, LogicalRegion: "us-east"},
		{ID: "defender-uk-newport", Residency: ResidencyEMEA, LogicalRegion: "uk"},
		{
			ID: "insight-us-virginia", Residency: ResidencyUS, LogicalRegion: "us-east",
			Alternatives: []string{"defender-us-denver", "defender-us-ashburn"},
		},
		{
			ID: "insight-eu-ireland", Residency: ResidencyEMEA, LogicalRegion: "eu-west",
			Alternatives: []string{"defender-uk-newport"},
		},
	}
}
