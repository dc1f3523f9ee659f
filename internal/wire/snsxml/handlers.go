package snsxml

import (
	"encoding/xml"
	"net/http"
	"strconv"
	"strings"

	"go.msgemu.dev/internal/bus"
)

type createTopicResult struct {
	TopicArn string `xml:"TopicArn"`
}

type createTopicResponse struct {
	XMLName           xml.Name `xml:"CreateTopicResponse"`
	CreateTopicResult createTopicResult
	ResponseMetadata  responseMetadata
}

func (a *Adapter) handleCreateTopic(w http.ResponseWriter, r *http.Request) int {
	name := r.Form.Get("Name")
	attrs := parseEntryMap(r.Form, "Attributes")
	tags := parseEntryMap(r.Form, "Tags")
	t, err := a.Bus.CreateTopic(r.Context(), name, attrs, tags)
	if err != nil {
		return writeBusError(w, err)
	}
	return writeXML(w, http.StatusOK, createTopicResponse{
		CreateTopicResult: createTopicResult{TopicArn: t.Arn()},
		ResponseMetadata:  newResponseMetadata(),
	})
}

type simpleResponse struct {
	XMLName          xml.Name
	ResponseMetadata responseMetadata
}

func (a *Adapter) handleDeleteTopic(w http.ResponseWriter, r *http.Request) int {
	topicArn := r.Form.Get("TopicArn")
	if err := a.Bus.DeleteTopic(r.Context(), topicArn); err != nil {
		return writeBusError(w, err)
	}
	return writeXML(w, http.StatusOK, simpleResponse{XMLName: xml.Name{Local: "DeleteTopicResponse"}, ResponseMetadata: newResponseMetadata()})
}

type topicEntry struct {
	TopicArn string `xml:"TopicArn"`
}

type listTopicsResult struct {
	Topics    []topicEntry `xml:"Topics>member"`
	NextToken string       `xml:"NextToken,omitempty"`
}

type listTopicsResponse struct {
	XMLName          xml.Name `xml:"ListTopicsResponse"`
	ListTopicsResult listTopicsResult
	ResponseMetadata responseMetadata
}

func (a *Adapter) handleListTopics(w http.ResponseWriter, r *http.Request) int {
	token := r.Form.Get("NextToken")
	arns, next, err := a.Bus.ListTopics(0, token)
	if err != nil {
		return writeBusError(w, err)
	}
	entries := make([]topicEntry, 0, len(arns))
	for _, arn := range arns {
		entries = append(entries, topicEntry{TopicArn: arn})
	}
	return writeXML(w, http.StatusOK, listTopicsResponse{
		ListTopicsResult: listTopicsResult{Topics: entries, NextToken: next},
		ResponseMetadata: newResponseMetadata(),
	})
}

type attributeEntry struct {
	Key   string `xml:"key"`
	Value string `xml:"value"`
}

type getTopicAttributesResult struct {
	Attributes []attributeEntry `xml:"Attributes>entry"`
}

type getTopicAttributesResponse struct {
	XMLName                  xml.Name `xml:"GetTopicAttributesResponse"`
	GetTopicAttributesResult getTopicAttributesResult
	ResponseMetadata         responseMetadata
}

func mapToEntries(m map[string]string) []attributeEntry {
	out := make([]attributeEntry, 0, len(m))
	for k, v := range m {
		out = append(out, attributeEntry{Key: k, Value: v})
	}
	return out
}

func (a *Adapter) handleGetTopicAttributes(w http.ResponseWriter, r *http.Request) int {
	topicArn := r.Form.Get("TopicArn")
	attrs, err := a.Bus.GetTopicAttributes(topicArn)
	if err != nil {
		return writeBusError(w, err)
	}
	return writeXML(w, http.StatusOK, getTopicAttributesResponse{
		GetTopicAttributesResult: getTopicAttributesResult{Attributes: mapToEntries(attrs)},
		ResponseMetadata:         newResponseMetadata(),
	})
}

func (a *Adapter) handleSetTopicAttributes(w http.ResponseWriter, r *http.Request) int {
	topicArn := r.Form.Get("TopicArn")
	name := r.Form.Get("AttributeName")
	value := r.Form.Get("AttributeValue")
	t, err := a.Bus.GetTopic(topicArn)
	if err != nil {
		return writeBusError(w, err)
	}
	if err := a.Bus.SetTopicAttributes(r.Context(), t, map[string]string{name: value}); err != nil {
		return writeBusError(w, err)
	}
	return writeXML(w, http.StatusOK, simpleResponse{XMLName: xml.Name{Local: "SetTopicAttributesResponse"}, ResponseMetadata: newResponseMetadata()})
}

type subscribeResult struct {
	SubscriptionArn string `xml:"SubscriptionArn"`
}

type subscribeResponse struct {
	XMLName          xml.Name `xml:"SubscribeResponse"`
	SubscribeResult  subscribeResult
	ResponseMetadata responseMetadata
}

func (a *Adapter) handleSubscribe(w http.ResponseWriter, r *http.Request) int {
	topicArn := r.Form.Get("TopicArn")
	protocol := r.Form.Get("Protocol")
	endpoint := r.Form.Get("Endpoint")
	attrs := parseEntryMap(r.Form, "Attributes")
	if fp := r.Form.Get("FilterPolicy"); fp != "" {
		attrs[bus.SubscriptionAttrFilterPolicy] = fp
	}
	if raw := r.Form.Get("RawMessageDelivery"); raw != "" {
		attrs[bus.SubscriptionAttrRawMessageDelivery] = raw
	}
	s, err := a.Bus.Subscribe(r.Context(), topicArn, protocol, endpoint, attrs)
	if err != nil {
		return writeBusError(w, err)
	}
	return writeXML(w, http.StatusOK, subscribeResponse{
		SubscribeResult:  subscribeResult{SubscriptionArn: s.Arn},
		ResponseMetadata: newResponseMetadata(),
	})
}

func (a *Adapter) handleUnsubscribe(w http.ResponseWriter, r *http.Request) int {
	arn := r.Form.Get("SubscriptionArn")
	if err := a.Bus.Unsubscribe(r.Context(), arn); err != nil {
		return writeBusError(w, err)
	}
	return writeXML(w, http.StatusOK, simpleResponse{XMLName: xml.Name{Local: "UnsubscribeResponse"}, ResponseMetadata: newResponseMetadata()})
}

type subscriptionEntry struct {
	SubscriptionArn string `xml:"SubscriptionArn"`
	Owner           string `xml:"Owner"`
	Protocol        string `xml:"Protocol"`
	Endpoint        string `xml:"Endpoint"`
	TopicArn        string `xml:"TopicArn"`
}

type listSubscriptionsByTopicResult struct {
	Subscriptions []subscriptionEntry `xml:"Subscriptions>member"`
	NextToken     string              `xml:"NextToken,omitempty"`
}

type listSubscriptionsByTopicResponse struct {
	XMLName                        xml.Name `xml:"ListSubscriptionsByTopicResponse"`
	ListSubscriptionsByTopicResult listSubscriptionsByTopicResult
	ResponseMetadata               responseMetadata
}

func subsToEntries(subs []*bus.Subscription, account string) []subscriptionEntry {
	entries := make([]subscriptionEntry, 0, len(subs))
	for _, s := range subs {
		entries = append(entries, subscriptionEntry{
			SubscriptionArn: s.Arn, Owner: account, Protocol: s.Protocol, Endpoint: s.Endpoint, TopicArn: s.TopicArn,
		})
	}
	return entries
}

func (a *Adapter) handleListSubscriptionsByTopic(w http.ResponseWriter, r *http.Request) int {
	topicArn := r.Form.Get("TopicArn")
	token := r.Form.Get("NextToken")
	subs, next, err := a.Bus.ListSubscriptionsByTopic(topicArn, 0, token)
	if err != nil {
		return writeBusError(w, err)
	}
	return writeXML(w, http.StatusOK, listSubscriptionsByTopicResponse{
		ListSubscriptionsByTopicResult: listSubscriptionsByTopicResult{
			Subscriptions: subsToEntries(subs, a.Bus.Config().Account), NextToken: next,
		},
		ResponseMetadata: newResponseMetadata(),
	})
}

type listSubscriptionsResult struct {
	Subscriptions []subscriptionEntry `xml:"Subscriptions>member"`
	NextToken     string              `xml:"NextToken,omitempty"`
}

type listSubscriptionsResponse struct {
	XMLName               xml.Name `xml:"ListSubscriptionsResponse"`
	ListSubscriptionsResult listSubscriptionsResult
	ResponseMetadata      responseMetadata
}

func (a *Adapter) handleListSubscriptions(w http.ResponseWriter, r *http.Request) int {
	token := r.Form.Get("NextToken")
	subs, next, err := a.Bus.ListSubscriptions(0, token)
	if err != nil {
		return writeBusError(w, err)
	}
	return writeXML(w, http.StatusOK, listSubscriptionsResponse{
		ListSubscriptionsResult: listSubscriptionsResult{Subscriptions: subsToEntries(subs, a.Bus.Config().Account), NextToken: next},
		ResponseMetadata:        newResponseMetadata(),
	})
}

type getSubscriptionAttributesResult struct {
	Attributes []attributeEntry `xml:"Attributes>entry"`
}

type getSubscriptionAttributesResponse struct {
	XMLName                         xml.Name `xml:"GetSubscriptionAttributesResponse"`
	GetSubscriptionAttributesResult getSubscriptionAttributesResult
	ResponseMetadata                responseMetadata
}

func (a *Adapter) handleGetSubscriptionAttributes(w http.ResponseWriter, r *http.Request) int {
	arn := r.Form.Get("SubscriptionArn")
	attrs, err := a.Bus.GetSubscriptionAttributes(arn)
	if err != nil {
		return writeBusError(w, err)
	}
	return writeXML(w, http.StatusOK, getSubscriptionAttributesResponse{
		GetSubscriptionAttributesResult: getSubscriptionAttributesResult{Attributes: mapToEntries(attrs)},
		ResponseMetadata:                newResponseMetadata(),
	})
}

func (a *Adapter) handleSetSubscriptionAttributes(w http.ResponseWriter, r *http.Request) int {
	arn := r.Form.Get("SubscriptionArn")
	name := r.Form.Get("AttributeName")
	value := r.Form.Get("AttributeValue")
	if err := a.Bus.SetSubscriptionAttributes(r.Context(), arn, name, value); err != nil {
		return writeBusError(w, err)
	}
	return writeXML(w, http.StatusOK, simpleResponse{XMLName: xml.Name{Local: "SetSubscriptionAttributesResponse"}, ResponseMetadata: newResponseMetadata()})
}

type publishResult struct {
	MessageId string `xml:"MessageId"`
}

type publishResponse struct {
	XMLName          xml.Name `xml:"PublishResponse"`
	PublishResult    publishResult
	ResponseMetadata responseMetadata
}

func (a *Adapter) handlePublish(w http.ResponseWriter, r *http.Request) int {
	topicArn := r.Form.Get("TopicArn")
	t, err := a.Bus.GetTopic(topicArn)
	if err != nil {
		return writeBusError(w, err)
	}

	out, perr := a.Bus.Publish(r.Context(), t, bus.PublishInput{
		Message:                r.Form.Get("Message"),
		Subject:                r.Form.Get("Subject"),
		Attributes:             parseMessageAttributes(r.Form),
		MessageGroupID:         r.Form.Get("MessageGroupId"),
		MessageDeduplicationID: r.Form.Get("MessageDeduplicationId"),
	})
	if perr != nil {
		return writeBusError(w, perr)
	}
	return writeXML(w, http.StatusOK, publishResponse{
		PublishResult:    publishResult{MessageId: out.MessageID},
		ResponseMetadata: newResponseMetadata(),
	})
}

type publishBatchResultEntry struct {
	Id        string `xml:"Id"`
	MessageId string `xml:"MessageId"`
}

type batchFaultEntry struct {
	Id          string `xml:"Id"`
	Code        string `xml:"Code"`
	Message     string `xml:"Message,omitempty"`
	SenderFault bool   `xml:"SenderFault"`
}

type publishBatchResult struct {
	Successful []publishBatchResultEntry `xml:"Successful>member"`
	Failed     []batchFaultEntry         `xml:"Failed>member"`
}

type publishBatchResponse struct {
	XMLName            xml.Name `xml:"PublishBatchResponse"`
	PublishBatchResult publishBatchResult
	ResponseMetadata   responseMetadata
}

// handlePublishBatch reads the indexed
// "PublishBatchRequestEntries.member.<n>.{Id,Message,Subject,MessageGroupId,
// MessageDeduplicationId}" form encoding, and each entry's own
// "...MessageAttributes.entry.<m>..." block via a per-entry form subset.
func (a *Adapter) handlePublishBatch(w http.ResponseWriter, r *http.Request) int {
	topicArn := r.Form.Get("TopicArn")
	t, err := a.Bus.GetTopic(topicArn)
	if err != nil {
		return writeBusError(w, err)
	}

	entries := make([]bus.PublishBatchEntry, 0)
	for i := 1; ; i++ {
		idx := strconv.Itoa(i)
		base := "PublishBatchRequestEntries.member." + idx
		id := r.Form.Get(base + ".Id")
		if id == "" {
			break
		}
		entryForm := map[string][]string{}
		for k, v := range r.Form {
			if strings.HasPrefix(k, base+".MessageAttributes.") {
				entryForm[strings.TrimPrefix(k, base+".")] = v
			}
		}
		entries = append(entries, bus.PublishBatchEntry{
			ID: id,
			Input: bus.PublishInput{
				Message:                r.Form.Get(base + ".Message"),
				Subject:                r.Form.Get(base + ".Subject"),
				Attributes:             parseMessageAttributes(entryForm),
				MessageGroupID:         r.Form.Get(base + ".MessageGroupId"),
				MessageDeduplicationID: r.Form.Get(base + ".MessageDeduplicationId"),
			},
		})
	}

	results, berr := a.Bus.PublishBatch(r.Context(), t, entries)
	if berr != nil {
		return writeBusError(w, berr)
	}

	resp := publishBatchResponse{ResponseMetadata: newResponseMetadata()}
	for _, res := range results {
		if res.Err != nil {
			resp.PublishBatchResult.Failed = append(resp.PublishBatchResult.Failed, batchFaultEntry{
				Id: res.ID, Code: res.Err.Kind.String(), Message: res.Err.Message, SenderFault: true,
			})
			continue
		}
		resp.PublishBatchResult.Successful = append(resp.PublishBatchResult.Successful, publishBatchResultEntry{Id: res.ID, MessageId: res.Output.MessageID})
	}
	return writeXML(w, http.StatusOK, resp)
}
