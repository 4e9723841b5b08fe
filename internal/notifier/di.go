package notifier

import (
	"github.com/foxseedlab/racenotif/internal/config"
	"github.com/foxseedlab/racenotif/internal/discord"
	"github.com/foxseedlab/racenotif/internal/repository"
	"github.com/foxseedlab/racenotif/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Notifier, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		dc := do.MustInvoke[discord.Client](i)
		wh := do.MustInvoke[webhook.Sender](i)
		return NewNotifier(cfg, repo, dc, wh), nil
	})
}
