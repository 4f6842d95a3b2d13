package meeting

import (
	"github.com/confab-dev/confab/pkg/meeting/participant"
)

// handleMediaRequest dispatches the SFU operation suite. Every operation
// needs a live seat and, except for stats, an active router.
func (m *Meeting) handleMediaRequest(req request) (any, error) {
	p, err := m.requireParticipant(req.caller)
	if err != nil {
		return nil, err
	}

	if _, ok := req.content.(statsRequest); ok {
		return m.participantStats(p), nil
	}

	router := m.activeRouter()
	if router == nil {
		return nil, NewError(CodeValidation, "meeting is not in sfu mode")
	}

	switch content := req.content.(type) {
	case routerCapsRequest:
		return router.RTPCapabilities(), nil

	case setCapsRequest:
		wired, wiredData := router.SetRTPCapabilities(p, content.capabilities)
		for _, info := range wired {
			m.emit(NewConsumer{eventBase: m.base(), Info: info})
		}
		for _, info := range wiredData {
			m.emit(NewDataConsumer{eventBase: m.base(), Info: info})
		}
		return nil, nil

	case createTransportRequest:
		return router.CreateTransport(p, content.direction)

	case connectTransportRequest:
		return nil, router.ConnectTransport(p, content.transport, content.dtls)

	case produceRequest:
		producer, wired, err := router.Produce(p, content.kind, content.source, content.parameters, content.appData)
		if err != nil {
			return nil, err
		}
		m.emit(NewProducer{
			eventBase:  m.base(),
			Owner:      p.ID,
			ProducerID: producer.ID(),
			Kind:       content.kind,
			Source:     content.source,
		})
		for _, info := range wired {
			m.emit(NewConsumer{eventBase: m.base(), Info: info})
		}
		return ProduceResult{ProducerID: producer.ID(), Encodings: producer.Encodings()}, nil

	case closeProducerRequest:
		return nil, router.CloseProducer(p, content.producer)

	case consumeRequest:
		return router.Consume(p, content.producer)

	case produceDataRequest:
		dataProducer, wired, err := router.ProduceData(p, content.label, content.appData)
		if err != nil {
			return nil, err
		}
		m.emit(NewDataProducer{
			eventBase:  m.base(),
			Owner:      p.ID,
			ProducerID: dataProducer.ID(),
			Label:      content.label,
		})
		for _, info := range wired {
			m.emit(NewDataConsumer{eventBase: m.base(), Info: info})
		}
		return dataProducer.ID(), nil

	case consumeDataRequest:
		return router.ConsumeData(p, content.producer)

	case sendDataRequest:
		return nil, router.SendData(p, content.producer, content.payload)

	case audioLevelRequest:
		return nil, router.ReportAudioLevel(p, content.producer, content.volumeDBFS)

	case pauseProducerRequest:
		return nil, router.PauseProducer(p, content.producer)

	case resumeProducerRequest:
		return nil, router.ResumeProducer(p, content.producer)

	case pauseConsumerRequest:
		return nil, router.PauseConsumer(p, content.consumer)

	case resumeConsumerRequest:
		return nil, router.ResumeConsumer(p, content.consumer)

	case setLayersRequest:
		return nil, router.SetPreferredLayers(p, content.consumer, content.spatial, content.temporal)

	case setPriorityRequest:
		return nil, router.SetPriority(p, content.consumer, content.priority)

	case restartICERequest:
		return router.RestartICE(p, content.transport)

	default:
		return nil, Errorf(CodeValidation, "unknown request %T", req.content)
	}
}

// participantStats works in both modes: in sfu mode it reads the transport
// counters, in mesh mode the latest client-reported sample.
func (m *Meeting) participantStats(p *participant.Participant) participant.Sample {
	if router := m.activeRouter(); router != nil {
		return router.ParticipantStats(p)
	}
	if latest := p.Quality.Latest(); latest != nil {
		return *latest
	}
	return participant.Sample{}
}
