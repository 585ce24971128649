package config

import "tools.zach/dev/appcore/internal/migrate"

func init() {
	migrate.Config.Register(migrate.Migration{
		Version:     2,
		Description: "rename signals.stop to signals.terminate",
		Upgrade: migrate.TOML(2, func(doc migrate.Document) error {
			if s := doc.Table("signals"); s != nil {
				migrate.Rename(s, "stop", "terminate")
			}
			return nil
		}),
	})
}
