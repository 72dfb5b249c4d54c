// Package discord adapts the playback engine to the Discord gateway:
// chat commands in, voice audio and status embeds out.
package discord

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osahiro/groovebox/internal/app/queue"
	"github.com/osahiro/groovebox/internal/app/session"
	"github.com/osahiro/groovebox/internal/app/session/registry"
	"github.com/osahiro/groovebox/internal/app/vote"
	"github.com/osahiro/groovebox/internal/domain/track"
)

const (
	queuePageSize = 10
	embedColor    = 0x1db954
	errorColor    = 0xe74c3c
)

// Gateway wires chat messages to session commands and session events
// back to status embeds.
type Gateway struct {
	dg     *discordgo.Session
	reg    *registry.Registry
	prefix string
}

// NewGateway creates a gateway. Call Start after the discordgo session
// is open.
func NewGateway(dg *discordgo.Session, reg *registry.Registry, prefix string) *Gateway {
	return &Gateway{dg: dg, reg: reg, prefix: prefix}
}

// Start registers the message handler.
func (g *Gateway) Start() {
	g.dg.AddHandler(g.onMessageCreate)
}

func (g *Gateway) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	if !strings.HasPrefix(m.Content, g.prefix) {
		return
	}

	fields := strings.Fields(strings.TrimPrefix(m.Content, g.prefix))
	if len(fields) == 0 {
		return
	}
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	ctx := context.Background()

	var err error
	switch cmd {
	case "play", "p":
		err = g.cmdPlay(ctx, m, strings.Join(args, " "))
	case "join", "summon":
		err = g.cmdJoin(ctx, m)
	case "leave", "stop":
		err = g.cmdLeave(m)
	case "pause":
		err = g.cmdPause(m)
	case "resume", "unpause":
		err = g.cmdResume(m)
	case "skip", "s":
		err = g.cmdSkip(m)
	case "repeat", "loop":
		err = g.cmdRepeat(m, args)
	case "queue", "q":
		err = g.cmdQueue(m, args)
	case "np", "nowplaying":
		err = g.cmdNowPlaying(m)
	case "volume", "vol":
		err = g.cmdVolume(m, args)
	case "clear":
		err = g.cmdClear(m)
	case "remove", "rm":
		err = g.cmdRemove(m, args)
	case "shuffle":
		err = g.cmdShuffle(m)
	case "move", "mv":
		err = g.cmdMove(m, args)
	default:
		return
	}

	if err != nil {
		zlog.Debug().Msgf("gateway: command failed: guild=%s cmd=%s err=%v", m.GuildID, cmd, err)
		g.replyError(m.ChannelID, err)
	}
}

// ensureSession returns the guild's session connected to the invoker's
// voice channel, creating both as needed.
func (g *Gateway) ensureSession(ctx context.Context, m *discordgo.MessageCreate) (*session.Session, error) {
	voiceID, err := g.voiceChannelOf(m.GuildID, m.Author.ID)
	if err != nil {
		return nil, err
	}

	sess, created := g.reg.GetOrCreate(m.GuildID, m.ChannelID)
	if created {
		go g.pumpEvents(sess)
	}
	if err := sess.Connect(ctx, voiceID); err != nil {
		return nil, err
	}
	return sess, nil
}

// existingSession returns the guild's live session or an error for
// commands that never create one.
func (g *Gateway) existingSession(guildID string) (*session.Session, error) {
	sess, ok := g.reg.Get(guildID)
	if !ok || sess.State() == session.StateDestroyed {
		return nil, errors.New("nothing is playing in this server")
	}
	return sess, nil
}

func (g *Gateway) cmdJoin(ctx context.Context, m *discordgo.MessageCreate) error {
	_, err := g.ensureSession(ctx, m)
	return err
}

func (g *Gateway) cmdPlay(ctx context.Context, m *discordgo.MessageCreate, query string) error {
	if query == "" {
		return errors.New("usage: play <url or search terms>")
	}

	sess, err := g.ensureSession(ctx, m)
	if err != nil {
		return err
	}

	requester := track.Requester{ID: m.Author.ID, DisplayName: displayName(m)}
	qt, err := sess.Enqueue(ctx, query, requester)
	if err != nil {
		return err
	}

	g.sendEmbed(m.ChannelID, &discordgo.MessageEmbed{
		Title:       "Added to queue",
		Description: trackLink(qt.Track),
		Color:       embedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Duration", Value: track.FormatDuration(qt.Track.DurationSec), Inline: true},
			{Name: "Position", Value: strconv.Itoa(sess.Queue().Size()), Inline: true},
		},
		Thumbnail: thumbnail(qt.Track),
	})
	return nil
}

func (g *Gateway) cmdLeave(m *discordgo.MessageCreate) error {
	sess, err := g.existingSession(m.GuildID)
	if err != nil {
		return err
	}
	return sess.Destroy()
}

func (g *Gateway) cmdPause(m *discordgo.MessageCreate) error {
	sess, err := g.existingSession(m.GuildID)
	if err != nil {
		return err
	}
	return sess.Pause()
}

func (g *Gateway) cmdResume(m *discordgo.MessageCreate) error {
	sess, err := g.existingSession(m.GuildID)
	if err != nil {
		return err
	}
	return sess.Resume()
}

// cmdSkip runs the vote-skip flow. Privileged members and a requester
// alone with the bot bypass the vote.
func (g *Gateway) cmdSkip(m *discordgo.MessageCreate) error {
	sess, err := g.existingSession(m.GuildID)
	if err != nil {
		return err
	}

	eligible, alone := g.voteEligibility(m.GuildID, m.Author.ID)
	privileged := g.isPrivileged(m, sess)

	outcome, err := sess.VoteSkip(m.Author.ID, eligible, privileged, alone)
	if err != nil {
		return err
	}

	switch outcome.Result {
	case vote.ResultImmediateSkip:
		g.reply(m.ChannelID, "Skipped.")
	case vote.ResultAlreadyVoted:
		g.reply(m.ChannelID, fmt.Sprintf("You already voted to skip (%d/%d).", outcome.Count, outcome.Required))
	case vote.ResultRecorded:
		g.reply(m.ChannelID, fmt.Sprintf("Skip vote recorded (%d/%d).", outcome.Count, outcome.Required))
	}
	return nil
}

func (g *Gateway) cmdRepeat(m *discordgo.MessageCreate, args []string) error {
	sess, err := g.existingSession(m.GuildID)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		g.reply(m.ChannelID, fmt.Sprintf("Repeat is **%s**.", sess.Repeat()))
		return nil
	}

	mode, err := session.ParseRepeatMode(args[0])
	if err != nil {
		return err
	}
	if err := sess.SetRepeat(mode); err != nil {
		return err
	}
	g.reply(m.ChannelID, fmt.Sprintf("Repeat set to **%s**.", mode))
	return nil
}

func (g *Gateway) cmdQueue(m *discordgo.MessageCreate, args []string) error {
	sess, err := g.existingSession(m.GuildID)
	if err != nil {
		return err
	}

	page := 1
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
			page = n
		}
	}

	q := sess.Queue()
	total := q.Size()
	items := q.Peek((page-1)*queuePageSize, queuePageSize)

	var b strings.Builder
	if qt, ok := sess.NowPlaying(); ok {
		fmt.Fprintf(&b, "**Now playing:** %s [%s]\n\n", trackLink(qt.Track), track.FormatDuration(qt.Track.DurationSec))
	}
	if total == 0 {
		b.WriteString("The queue is empty.")
	} else {
		for i, qt := range items {
			fmt.Fprintf(&b, "`%d.` %s [%s] • %s\n",
				(page-1)*queuePageSize+i+1, trackLink(qt.Track),
				track.FormatDuration(qt.Track.DurationSec), qt.Requester.DisplayName)
		}
		pages := (total + queuePageSize - 1) / queuePageSize
		fmt.Fprintf(&b, "\n%d track(s), page %d/%d", total, page, pages)
	}

	g.sendEmbed(m.ChannelID, &discordgo.MessageEmbed{
		Title:       "Queue",
		Description: b.String(),
		Color:       embedColor,
	})
	return nil
}

func (g *Gateway) cmdNowPlaying(m *discordgo.MessageCreate) error {
	sess, err := g.existingSession(m.GuildID)
	if err != nil {
		return err
	}

	qt, ok := sess.NowPlaying()
	if !ok {
		return session.ErrNoTrack
	}

	desc := trackLink(qt.Track)
	if pos, ok := sess.Position(); ok {
		desc += fmt.Sprintf("\n`%s / %s`",
			track.FormatDuration(int(pos.Seconds())),
			track.FormatDuration(qt.Track.DurationSec))
	}

	g.sendEmbed(m.ChannelID, &discordgo.MessageEmbed{
		Title:       "Now playing",
		Description: desc,
		Color:       embedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Requested by", Value: qt.Requester.DisplayName, Inline: true},
			{Name: "Volume", Value: fmt.Sprintf("%d%%", sess.Volume()), Inline: true},
			{Name: "Repeat", Value: sess.Repeat().String(), Inline: true},
		},
		Thumbnail: thumbnail(qt.Track),
	})
	return nil
}

func (g *Gateway) cmdVolume(m *discordgo.MessageCreate, args []string) error {
	sess, err := g.existingSession(m.GuildID)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		g.reply(m.ChannelID, fmt.Sprintf("Volume is **%d%%**.", sess.Volume()))
		return nil
	}

	percent, err := strconv.Atoi(args[0])
	if err != nil {
		return session.ErrInvalidVolume
	}
	if err := sess.SetVolume(percent); err != nil {
		return err
	}
	g.reply(m.ChannelID, fmt.Sprintf("Volume set to **%d%%**.", percent))
	return nil
}

func (g *Gateway) cmdClear(m *discordgo.MessageCreate) error {
	sess, err := g.existingSession(m.GuildID)
	if err != nil {
		return err
	}
	removed := sess.Queue().Clear()
	g.reply(m.ChannelID, fmt.Sprintf("Cleared %d track(s).", removed))
	return nil
}

func (g *Gateway) cmdRemove(m *discordgo.MessageCreate, args []string) error {
	sess, err := g.existingSession(m.GuildID)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return errors.New("usage: remove <position>")
	}
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return queue.ErrIndexOutOfRange
	}
	qt, err := sess.Queue().RemoveAt(index)
	if err != nil {
		return err
	}
	g.reply(m.ChannelID, fmt.Sprintf("Removed **%s**.", qt.Track.Title))
	return nil
}

func (g *Gateway) cmdShuffle(m *discordgo.MessageCreate) error {
	sess, err := g.existingSession(m.GuildID)
	if err != nil {
		return err
	}
	sess.Queue().Shuffle()
	g.reply(m.ChannelID, "Queue shuffled.")
	return nil
}

func (g *Gateway) cmdMove(m *discordgo.MessageCreate, args []string) error {
	sess, err := g.existingSession(m.GuildID)
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return errors.New("usage: move <from> <to>")
	}
	from, err1 := strconv.Atoi(args[0])
	to, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		return queue.ErrIndexOutOfRange
	}
	if err := sess.Queue().Move(from, to); err != nil {
		return err
	}
	g.reply(m.ChannelID, fmt.Sprintf("Moved track %d to position %d.", from, to))
	return nil
}

// pumpEvents renders session events into the session's text channel
// until the event channel closes on destruction.
func (g *Gateway) pumpEvents(sess *session.Session) {
	channelID := sess.TextChannelID()
	for ev := range sess.Events() {
		switch ev.Type {
		case session.EventTrackStarted:
			g.sendEmbed(channelID, &discordgo.MessageEmbed{
				Title:       "Now playing",
				Description: trackLink(ev.Track.Track),
				Color:       embedColor,
				Fields: []*discordgo.MessageEmbedField{
					{Name: "Duration", Value: track.FormatDuration(ev.Track.Track.DurationSec), Inline: true},
					{Name: "Requested by", Value: ev.Track.Requester.DisplayName, Inline: true},
				},
				Thumbnail: thumbnail(ev.Track.Track),
			})
		case session.EventTrackFailed:
			title := "track"
			if ev.Track != nil {
				title = ev.Track.Track.Title
			}
			g.replyError(channelID, errors.Wrapf(ev.Err, "could not play %s", title))
		case session.EventDestroyed:
			if ev.Reason == "idle_timeout" {
				g.reply(channelID, "Left the voice channel after being idle.")
			}
		}
	}
}

// voiceChannelOf returns the voice channel the member currently
// occupies.
func (g *Gateway) voiceChannelOf(guildID, userID string) (string, error) {
	guild, err := g.dg.State.Guild(guildID)
	if err != nil {
		return "", errors.Wrap(err, "guild not in state cache")
	}
	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID {
			return vs.ChannelID, nil
		}
	}
	return "", errors.New("join a voice channel first")
}

// voteEligibility counts the non-bot members sharing the bot's voice
// channel and reports whether the voter is alone with the bot.
func (g *Gateway) voteEligibility(guildID, voterID string) (eligible int, alone bool) {
	guild, err := g.dg.State.Guild(guildID)
	if err != nil {
		return 1, false
	}

	var botChannel string
	for _, vs := range guild.VoiceStates {
		if vs.UserID == g.dg.State.User.ID {
			botChannel = vs.ChannelID
			break
		}
	}
	if botChannel == "" {
		return 1, false
	}

	voterPresent := false
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != botChannel || vs.UserID == g.dg.State.User.ID {
			continue
		}
		if member, err := g.dg.State.Member(guildID, vs.UserID); err == nil && member.User != nil && member.User.Bot {
			continue
		}
		eligible++
		if vs.UserID == voterID {
			voterPresent = true
		}
	}
	if eligible == 0 {
		eligible = 1
	}
	return eligible, voterPresent && eligible == 1
}

// isPrivileged reports whether the member may bypass the skip vote:
// channel-management permission or being the requester of the current
// track.
func (g *Gateway) isPrivileged(m *discordgo.MessageCreate, sess *session.Session) bool {
	if qt, ok := sess.NowPlaying(); ok && qt.Requester.ID == m.Author.ID {
		return true
	}
	perms, err := g.dg.UserChannelPermissions(m.Author.ID, m.ChannelID)
	if err != nil {
		return false
	}
	return perms&discordgo.PermissionAdministrator != 0 ||
		perms&discordgo.PermissionManageChannels != 0
}

func (g *Gateway) reply(channelID, msg string) {
	if _, err := g.dg.ChannelMessageSend(channelID, msg); err != nil {
		zlog.Warn().Msgf("gateway: failed to send message: channel=%s err=%v", channelID, err)
	}
}

func (g *Gateway) replyError(channelID string, cmdErr error) {
	g.sendEmbed(channelID, &discordgo.MessageEmbed{
		Description: userMessage(cmdErr),
		Color:       errorColor,
	})
}

func (g *Gateway) sendEmbed(channelID string, embed *discordgo.MessageEmbed) {
	if _, err := g.dg.ChannelMessageSendEmbed(channelID, embed); err != nil {
		zlog.Warn().Msgf("gateway: failed to send embed: channel=%s err=%v", channelID, err)
	}
}

// userMessage maps engine errors to chat-friendly text.
func userMessage(err error) string {
	if re, ok := track.ResolveFailure(err); ok {
		switch re.Kind {
		case track.FailureAgeRestricted:
			return "That track is age-restricted and cannot be played."
		case track.FailureCopyrightBlocked:
			return "That track is blocked in this region."
		case track.FailureUnavailable:
			return "That track is unavailable."
		case track.FailureNoPlayableFormat:
			return "No playable audio format was found for that track."
		case track.FailureTooLong:
			if re.LimitSec > 0 {
				return fmt.Sprintf("That track is too long (limit %s).", track.FormatDuration(re.LimitSec))
			}
			return "That track is too long."
		default:
			return "The track could not be resolved."
		}
	}
	return capitalize(err.Error())
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func trackLink(t track.Track) string {
	if t.SourceURL == "" {
		return fmt.Sprintf("**%s**", t.Title)
	}
	return fmt.Sprintf("[%s](%s)", t.Title, t.SourceURL)
}

func thumbnail(t track.Track) *discordgo.MessageEmbedThumbnail {
	if t.ThumbnailURL == "" {
		return nil
	}
	return &discordgo.MessageEmbedThumbnail{URL: t.ThumbnailURL}
}

func displayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
