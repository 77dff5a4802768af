package modemcfg

// Builtin returns the model documents shipped with the binary. The set
// covers one device per paradigm and auth family so discovery and
// polling work without any user-provided document.
//
// Documents are rebuilt on every call; callers may mutate their copy.
func Builtin() []*Model {
	models := []*Model{
		{
			ID:       "arris-sb6141",
			Vendor:   "Arris",
			Name:     "SURFboard SB6141",
			Paradigm: ParadigmHTML,
			Pages: Pages{
				Data: map[string]string{
					"signal":     "/cmSignalData.htm",
					"addresses":  "/cmAddressData.htm",
					"systemInfo": "/indexData.htm",
					"eventlog":   "/cmLogsData.htm",
				},
			},
			Auth: Auth{Strategy: StrategyNone},
		},
		{
			ID:       "arris-sb8200",
			Vendor:   "Arris",
			Name:     "SURFboard SB8200",
			Paradigm: ParadigmHTML,
			Pages: Pages{
				Data: map[string]string{
					"connection": "/cmconnectionstatus.html",
					"systemInfo": "/cmswinfo.html",
					"eventlog":   "/cmeventlog.html",
				},
			},
			Auth: Auth{
				Strategy: StrategyURLToken,
				URLToken: &URLTokenAuth{
					DataPage:    "/cmconnectionstatus.html",
					TokenCookie: "credential",
					// Post-2020 firmware stopped setting the cookie and
					// returns the token as the login response body.
					TokenInBody: true,
				},
			},
		},
		{
			ID:       "netgear-cm600",
			Vendor:   "Netgear",
			Name:     "CM600",
			Paradigm: ParadigmHTML,
			Pages: Pages{
				Data: map[string]string{
					"status":     "/DocsisStatus.htm",
					"systemInfo": "/RouterStatus.htm",
					"eventlog":   "/EventLog.htm",
				},
				Logout: "/Logout.htm",
			},
			Auth: Auth{
				Strategy: StrategyForm,
				Form: &FormAuth{
					ActionPath:    "/goform/Login",
					UsernameField: "loginUsername",
					PasswordField: "loginPassword",
				},
			},
			Actions: Actions{
				Restart: &RestartAction{
					Type:     RestartHTMLForm,
					Endpoint: "/goform/Reboot",
					Params:   map[string]any{"buttonSelect": "2"},
				},
			},
		},
		{
			ID:       "motorola-mb8600",
			Vendor:   "Motorola",
			Name:     "MB8600",
			Paradigm: ParadigmHNAP,
			Pages: Pages{
				HNAPActions: []string{
					"GetMotoStatusSoftware",
					"GetMotoStatusStartupSequence",
					"GetMotoStatusConnectionInfo",
					"GetMotoStatusDownstreamChannelInfo",
					"GetMotoStatusUpstreamChannelInfo",
				},
			},
			Auth: Auth{Strategy: StrategyHNAP},
			Actions: Actions{
				Restart: &RestartAction{
					Type:       RestartHNAPRPC,
					ActionName: "SetStatusSecuritySettings",
					Params: map[string]any{
						"MotoStatusSecurityAction": "1",
						"MotoStatusSecXXX":         "XXX",
					},
				},
			},
		},
		{
			ID:       "virginmedia-hub5",
			Vendor:   "Virgin Media",
			Name:     "Hub 5",
			Paradigm: ParadigmREST,
			Pages: Pages{
				Data: map[string]string{
					"downstream": "/rest/v1/cablemodem/downstream",
					"upstream":   "/rest/v1/cablemodem/upstream",
					"state":      "/rest/v1/cablemodem/state",
					"eventlog":   "/rest/v1/cablemodem/eventlog",
				},
				Merge:    []string{"downstream", "upstream", "state"},
				MergeKey: "cablemodem",
			},
			Auth: Auth{Strategy: StrategyNone},
		},
		{
			// Landing-page-only document for devices nothing else covers.
			// Selected by operators explicitly, never by detection.
			ID:       "generic-fallback",
			Vendor:   "Generic",
			Name:     "Unknown modem",
			Paradigm: ParadigmHTML,
			Pages: Pages{
				Data: map[string]string{
					"landing": "/",
				},
			},
			Auth: Auth{Strategy: StrategyNone},
		},
	}

	for _, m := range models {
		m.Normalize()
	}
	return models
}

// BuiltinByID returns the builtin document with the given id, or nil.
func BuiltinByID(id string) *Model {
	for _, m := range Builtin() {
		if m.ID == id {
			return m
		}
	}
	return nil
}
