package signaling

import (
	"context"
	"encoding/json"

	"github.com/confab-dev/confab/pkg/meeting"
	"github.com/confab-dev/confab/pkg/meeting/participant"
	"github.com/confab-dev/confab/pkg/mesh"
	"github.com/pion/webrtc/v3"
)

func decode[T any](frame Frame) (T, error) {
	var payload T
	if len(frame.Data) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		return payload, meeting.NewError(meeting.CodeValidation, "malformed payload")
	}
	return payload, nil
}

func (g *Gateway) handleFrame(c *client, frame Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.RequestTimeout)
	defer cancel()

	payload, err := g.dispatch(ctx, c, frame)
	if err != nil {
		c.sendError(frame.ID, err)
		return
	}
	c.sendReply(frame.ID, payload)
}

func (g *Gateway) dispatch(ctx context.Context, c *client, frame Frame) (any, error) {
	switch frame.Type {
	case TypeCreateMeeting:
		req, err := decode[CreateMeetingRequest](frame)
		if err != nil {
			return nil, err
		}
		m, err := g.dispatcher.CreateMeeting(ctx, req.MeetingID, c.peer, meeting.Options{
			MaxParticipants: req.MaxParticipants,
			Encryption:      req.Encryption,
		})
		if err != nil {
			return nil, err
		}
		return CreateMeetingResponse{MeetingID: m.ID()}, nil

	case TypeJoin:
		return g.handleJoin(ctx, c, frame)

	case TypeLeave:
		m, err := c.currentMeeting()
		if err != nil {
			return nil, err
		}
		if err := m.Leave(ctx, c.peer); err != nil {
			return nil, err
		}
		g.unregister(c)
		return nil, nil

	case TypeEnd:
		req, err := decode[EndRequest](frame)
		if err != nil {
			return nil, err
		}
		m, err := c.currentMeeting()
		if err != nil {
			return nil, err
		}
		if c.peer != m.Host() {
			return nil, meeting.NewError(meeting.CodeAuthorization, "only the host can end the meeting")
		}
		reason := req.Reason
		if reason == "" {
			reason = "ended by host"
		}
		return nil, m.End(ctx, reason)

	case TypeInfo:
		m, err := c.currentMeeting()
		if err != nil {
			return nil, err
		}
		return m.Info(ctx)

	case TypeMediaState:
		return g.withMeeting(c, func(m *meeting.Meeting) (any, error) {
			state, err := decode[participant.MediaState](frame)
			if err != nil {
				return nil, err
			}
			return nil, m.SetMediaState(ctx, c.peer, state)
		})

	case TypeOffer, TypeAnswer, TypeICECandidate, TypeConnectionRefresh:
		return g.withMeeting(c, func(m *meeting.Meeting) (any, error) {
			signal, err := decode[mesh.Signal](frame)
			if err != nil {
				return nil, err
			}
			signal.Kind = mesh.SignalKind(frame.Type)
			return nil, m.RelaySignal(ctx, c.peer, signal)
		})

	case TypeQuality:
		return g.withMeeting(c, func(m *meeting.Meeting) (any, error) {
			sample, err := decode[participant.Sample](frame)
			if err != nil {
				return nil, err
			}
			return nil, m.UpdateQuality(ctx, c.peer, sample)
		})

	case TypeAckTransition:
		return g.withMeeting(c, func(m *meeting.Meeting) (any, error) {
			return nil, m.AcknowledgeTransition(ctx, c.peer)
		})

	case TypeRouterCaps:
		return g.withMeeting(c, func(m *meeting.Meeting) (any, error) {
			return m.RouterCapabilities(ctx, c.peer)
		})

	case TypeSetCaps:
		return g.withMeeting(c, func(m *meeting.Meeting) (any, error) {
			capabilities, err := decode[webrtc.RTPCapabilities](frame)
			if err != nil {
				return nil, err
			}
			return nil, m.SetRTPCapabilities(ctx, c.peer, capabilities)
		})

	case TypeCreateTransport:
		return g.withMeeting(c, func(m *meeting.Meeting) (any, error) {
			req, err := decode[CreateTransportRequest](frame)
			if err != nil {
				return nil, err
			}
			return m.CreateTransport(ctx, c.peer, req.Direction)
		})

	case TypeConnectTransport:
		return g.withMeeting(c, func(m *meeting.Meeting) (any, error) {
			req, err := decode[ConnectTransportRequest](frame)
			if err != nil {
				return nil, err
			}
			return nil, m.ConnectTransport(ctx, c.peer, req.TransportID, req.DTLSParameters)
		})

	case TypeProduce:
		return g.withMeeting(c, func(m *meeting.Meeting) (any, error) {
			req, err := decode[ProduceRequest](frame)
			if err != nil {
				return nil, err
			}
			return m.Produce(ctx, c.peer, req.Kind, req.Source, req.Parameters, req.AppData)
		})

	case TypeCloseProducer:
		return g.withMeeting(c, func(m *meeting.Meeting) (any, error) {
			req, err := decode[ProducerRequest](frame)
			if err != nil {
				return nil, err
			}
			return nil, m.CloseProducer(ctx, c.peer, req.ProducerID)
		})

	case TypeConsume:
		return g.withMeeting(c, func(m *meeting.Meeting) (any, error) {
			req, err := decode[ProducerRequest](frame)
			if err != nil {
				return nil, err
			}
			return m.Consume(ctx, c.peer, req.ProducerID)
		})

	case TypeProduceData:
		return g.withMeeting(c, func(m *meeting.Meeting) (any, error) {
			req, err := decode[ProduceDataRequest](frame)
			if err != nil {
				return nil, err
			}
			id, err := m.ProduceData(ctx, c.peer, req.Label, req.AppData)
			if err != nil {
				return nil, err
			}
			return ProducerRequest{ProducerID: id}, nil
		})

	case TypeConsumeData:
		return g.withMeeting(c, func(m *meeting.Meeting) (any, error) {
			req, err := decode[ProducerRequest](frame)
			if err != nil {
				return nil, err
			}
			return m.ConsumeData(ctx, c.peer, req.ProducerID)
		})

	case TypeSendData:
		return g.withMeeting(c, func(m *meeting.Meeting) (any, error) {
			req, err := decode[SendDataRequest](frame)
			if err != nil {
				return nil, err
			}
			return nil, m.SendData(ctx, c.peer, req.ProducerID, req.Payload)
		})

	case TypePauseProducer:
		return g.withMeeting(c, func(m *meeting.Meeting) (any, error) {
			req, err := decode[ProducerRequest](frame)
			if err != nil {
				return nil, err
			}
			return nil, m.PauseProducer(ctx, c.peer, req.ProducerID)
		})

	case TypeResumeProducer:
		return g.withMeeting(c, func(m *meeting.Meeting) (any, error) {
			req, err := decode[ProducerRequest](frame)
			if err != nil {
				return nil, err
			}
			return nil, m.ResumeProducer(ctx, c.peer, req.ProducerID)
		})

	case TypePauseConsumer:
		return g.withMeeting(c, func(m *meeting.Meeting) (any, error) {
			req, err := decode[ConsumerRequest](frame)
			if err != nil {
				return nil, err
			}
			return nil, m.PauseConsumer(ctx, c.peer, req.ConsumerID)
		})

	case TypeResumeConsumer:
		return g.withMeeting(c, func(m *meeting.Meeting) (any, error) {
			req, err := decode[ConsumerRequest](frame)
			if err != nil {
				return nil, err
			}
			return nil, m.ResumeConsumer(ctx, c.peer, req.ConsumerID)
		})

	case TypeSetLayers:
		return g.withMeeting(c, func(m *meeting.Meeting) (any, error) {
			req, err := decode[SetLayersRequest](frame)
			if err != nil {
				return nil, err
			}
			return nil, m.SetPreferredLayers(ctx, c.peer, req.ConsumerID, req.SpatialLayer, req.TemporalLayer)
		})

	case TypeSetPriority:
		return g.withMeeting(c, func(m *meeting.Meeting) (any, error) {
			req, err := decode[SetPriorityRequest](frame)
			if err != nil {
				return nil, err
			}
			return nil, m.SetPriority(ctx, c.peer, req.ConsumerID, req.Priority)
		})

	case TypeRestartICE:
		return g.withMeeting(c, func(m *meeting.Meeting) (any, error) {
			req, err := decode[RestartICERequest](frame)
			if err != nil {
				return nil, err
			}
			return m.RestartICE(ctx, c.peer, req.TransportID)
		})

	case TypeReportAudioLevel:
		return g.withMeeting(c, func(m *meeting.Meeting) (any, error) {
			req, err := decode[ReportAudioLevelRequest](frame)
			if err != nil {
				return nil, err
			}
			return nil, m.ReportAudioLevel(ctx, c.peer, req.ProducerID, req.VolumeDBFS)
		})

	case TypeStats:
		return g.withMeeting(c, func(m *meeting.Meeting) (any, error) {
			return m.Stats(ctx, c.peer)
		})

	default:
		return nil, meeting.Errorf(meeting.CodeValidation, "unknown message type %q", frame.Type)
	}
}

func (g *Gateway) withMeeting(c *client, handler func(m *meeting.Meeting) (any, error)) (any, error) {
	m, err := c.currentMeeting()
	if err != nil {
		return nil, err
	}
	return handler(m)
}

// handleJoin registers the socket for pushes before joining, so the events
// emitted by the join itself are not missed.
func (g *Gateway) handleJoin(ctx context.Context, c *client, frame Frame) (any, error) {
	req, err := decode[JoinRequest](frame)
	if err != nil {
		return nil, err
	}
	if _, err := c.currentMeeting(); err == nil {
		return nil, meeting.NewError(meeting.CodeConflict, "this socket is already in a meeting")
	}

	m, err := g.dispatcher.Meeting(req.MeetingID)
	if err != nil {
		return nil, err
	}

	c.bind(m)
	g.register(c, req.MeetingID)

	result, err := m.Join(ctx, c.peer, req.DisplayName, c.socket)
	if err != nil {
		g.unregister(c)
		return nil, err
	}
	return result, nil
}
