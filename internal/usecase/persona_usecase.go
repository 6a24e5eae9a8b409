package usecase

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nguyentranbao-ct/chat-replica/internal/models"
	"github.com/nguyentranbao-ct/chat-replica/internal/store"
	"github.com/nguyentranbao-ct/chat-replica/pkg/logger/log"
	"gopkg.in/yaml.v3"
)

//go:embed default_persona.yaml
var defaultPersonaData []byte

const localExtension = "local"

type PersonaUsecase interface {
	// ResolveBotPersonas returns the bots that may answer in a room, in
	// preference order. It creates a default bot when none exists at all.
	ResolveBotPersonas(ctx context.Context, roomID string) ([]*models.Persona, error)
	GetPersona(ctx context.Context, id string) (*models.Persona, error)
	RefreshOnline(ctx context.Context) error
}

type personaUsecase struct {
	store       store.Store
	extensionID string
	now         func() time.Time

	// createMu keeps concurrent triggers from creating the default bot twice.
	createMu sync.Mutex
}

func NewPersonaUsecase(st store.Store, extensionID string) PersonaUsecase {
	return &personaUsecase{
		store:       st,
		extensionID: extensionID,
		now:         time.Now,
	}
}

func (uc *personaUsecase) GetPersona(ctx context.Context, id string) (*models.Persona, error) {
	return store.FindOneAs[models.Persona](ctx, uc.store, models.CollectionPersona, store.ByID(id))
}

func (uc *personaUsecase) ResolveBotPersonas(ctx context.Context, roomID string) ([]*models.Persona, error) {
	ext, err := uc.extension(ctx)
	if err != nil {
		return nil, err
	}

	if ext != "" && uc.store.HasCollection(models.CollectionRoom) {
		room, err := store.FindOneAs[models.Room](ctx, uc.store, models.CollectionRoom, store.ByID(roomID))
		switch {
		case errors.Is(err, models.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("find room %s: %w", roomID, err)
		default:
			bots, err := uc.extensionBots(ctx, room, ext)
			if err != nil {
				return nil, err
			}
			if len(bots) > 0 {
				return bots, nil
			}
		}

		rooms, err := store.FindAs[models.Room](ctx, uc.store, models.CollectionRoom, store.Query{})
		if err != nil {
			return nil, fmt.Errorf("find rooms: %w", err)
		}
		for _, r := range rooms {
			bots, err := uc.extensionBots(ctx, r, ext)
			if err != nil {
				return nil, err
			}
			if len(bots) > 0 {
				log.Debugw(ctx, "Using bot from another room", "room", roomID, "source_room", r.ID)
				return bots, nil
			}
		}
	}

	bots, err := uc.botPersonas(ctx)
	if err != nil {
		return nil, err
	}
	if len(bots) > 0 {
		return bots, nil
	}

	bot, err := uc.createDefaultBot(ctx, ext)
	if err != nil {
		return nil, err
	}
	return []*models.Persona{bot}, nil
}

// extension returns the id of the extension providing bots: the configured
// one, else the first installed.
func (uc *personaUsecase) extension(ctx context.Context) (string, error) {
	if uc.extensionID != "" {
		return uc.extensionID, nil
	}
	if !uc.store.HasCollection(models.CollectionCodeExtension) {
		return "", nil
	}
	ext, err := store.FindOneAs[models.CodeExtension](ctx, uc.store, models.CollectionCodeExtension, store.Query{})
	if errors.Is(err, models.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find code extension: %w", err)
	}
	return ext.ID, nil
}

func (uc *personaUsecase) extensionBots(ctx context.Context, room *models.Room, ext string) ([]*models.Persona, error) {
	var bots []*models.Persona
	for _, id := range room.Participants {
		p, err := uc.GetPersona(ctx, id)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("find persona %s: %w", id, err)
		}
		if p.IsBot() && p.ProvidedByExtension == ext {
			bots = append(bots, p)
		}
	}
	return bots, nil
}

func (uc *personaUsecase) botPersonas(ctx context.Context) ([]*models.Persona, error) {
	bots, err := store.FindAs[models.Persona](ctx, uc.store, models.CollectionPersona, store.Query{
		Selector: map[string]any{"personaType": models.PersonaTypeBot},
	})
	if err != nil {
		return nil, fmt.Errorf("find bot personas: %w", err)
	}
	return bots, nil
}

func defaultPersona() (*models.Persona, error) {
	var p models.Persona
	if err := yaml.Unmarshal(defaultPersonaData, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default persona: %w", err)
	}
	return &p, nil
}

func (uc *personaUsecase) createDefaultBot(ctx context.Context, ext string) (*models.Persona, error) {
	uc.createMu.Lock()
	defer uc.createMu.Unlock()

	bot, err := defaultPersona()
	if err != nil {
		return nil, err
	}
	if ext == "" {
		ext = localExtension
	}
	bot.ID = fmt.Sprintf("[%s][%s]", ext, bot.Name)

	existing, err := uc.GetPersona(ctx, bot.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("find default bot: %w", err)
	}

	bot.ModifiedAt = uc.now().UnixMilli()
	doc, err := store.Encode(bot)
	if err != nil {
		return nil, err
	}
	if err := uc.store.Insert(ctx, models.CollectionPersona, doc); err != nil {
		if errors.Is(err, models.ErrAlreadyExists) {
			return uc.GetPersona(ctx, bot.ID)
		}
		return nil, fmt.Errorf("insert default bot: %w", err)
	}
	log.Infow(ctx, "Created default bot persona", "persona", bot.ID)
	return bot, nil
}

func (uc *personaUsecase) RefreshOnline(ctx context.Context) error {
	if !uc.store.HasCollection(models.CollectionPersona) {
		return nil
	}
	bots, err := uc.botPersonas(ctx)
	if err != nil {
		return err
	}
	ext, err := uc.extension(ctx)
	if err != nil {
		return err
	}

	refreshed := 0
	for _, bot := range bots {
		if bot.Online {
			continue
		}
		if ext != "" && bot.ProvidedByExtension != ext {
			continue
		}
		_, err := uc.store.Update(ctx, models.CollectionPersona, bot.ID, store.Mutation{
			Set: map[string]any{
				"online":               true,
				models.FieldModifiedAt: uc.now().UnixMilli(),
			},
		})
		if err != nil {
			return fmt.Errorf("refresh persona %s: %w", bot.ID, err)
		}
		refreshed++
	}
	log.Debugw(ctx, "Refreshed bot personas", "count", refreshed)
	return nil
}
